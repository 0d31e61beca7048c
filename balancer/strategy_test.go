package balancer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/meshlink/registry"
)

func instances(ids ...string) []*registry.ServiceInstance {
	out := make([]*registry.ServiceInstance, len(ids))
	for i, id := range ids {
		out[i] = &registry.ServiceInstance{ServiceName: "order", ID: id, Host: "127.0.0.1", Port: 9000 + i, Status: registry.StatusUp}
	}
	return out
}

func weighted(weights map[string]string, ids ...string) []*registry.ServiceInstance {
	out := instances(ids...)
	for _, inst := range out {
		if w, ok := weights[inst.ID]; ok {
			inst.Metadata = map[string]string{registry.MetadataWeight: w}
		}
	}
	return out
}

type staticCounter map[string]int64

func (c staticCounter) Connections(_, id string) int64 { return c[id] }

func mustStrategy(t *testing.T, name string, counter ConnectionCounter) Strategy {
	t.Helper()
	s, err := NewStrategy(name, counter)
	require.NoError(t, err)
	assert.Equal(t, name, s.Name())
	return s
}

func TestNewStrategy_Errors(t *testing.T) {
	_, err := NewStrategy("fastest", nil)
	assert.Error(t, err)

	_, err = NewStrategy(LeastConnections, nil)
	assert.Error(t, err)
}

func TestRoundRobin_Fairness(t *testing.T) {
	s := mustStrategy(t, RoundRobin, nil)
	list := instances("a", "b", "c")

	const k = 7
	counts := map[string]int{}
	for i := 0; i < len(list)*k; i++ {
		counts[s.Select("order", list, "").ID]++
	}
	assert.Equal(t, map[string]int{"a": k, "b": k, "c": k}, counts)

	// 不同服务的计数互相独立
	assert.Equal(t, "a", s.Select("user", list, "").ID)
}

func TestRoundRobin_ResizeMayRepeat(t *testing.T) {
	s := mustStrategy(t, RoundRobin, nil)
	list := instances("a", "b", "c")

	var seq []string
	for i := 0; i < 5; i++ {
		seq = append(seq, s.Select("order", list, "").ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b"}, seq)

	// 列表缩小后计数对新长度取模，b 连续被选中两次
	assert.Equal(t, "b", s.Select("order", list[:2], "").ID)
	assert.Equal(t, "a", s.Select("order", list[:2], "").ID)
}

func TestLeastConnections(t *testing.T) {
	list := instances("a", "b")

	s := mustStrategy(t, LeastConnections, staticCounter{"a": 2, "b": 0})
	for i := 0; i < 10; i++ {
		assert.Equal(t, "b", s.Select("order", list, "").ID)
	}

	// 相同时按列表顺序
	s = mustStrategy(t, LeastConnections, staticCounter{"a": 1, "b": 1})
	assert.Equal(t, "a", s.Select("order", list, "").ID)

	s = mustStrategy(t, LeastConnections, staticCounter{"a": 3, "b": 1, "c": 1})
	assert.Equal(t, "b", s.Select("order", instances("a", "b", "c"), "").ID)
}

func TestRandom(t *testing.T) {
	s := mustStrategy(t, Random, nil)
	list := instances("a", "b", "c")

	seen := map[string]bool{}
	for i := 0; i < 300; i++ {
		inst := s.Select("order", list, "")
		assert.Contains(t, list, inst)
		seen[inst.ID] = true
	}
	assert.Len(t, seen, 3)
}

func TestWeightedRoundRobin(t *testing.T) {
	s := mustStrategy(t, WeightedRoundRobin, nil)
	list := weighted(map[string]string{"a": "3"}, "a", "b")

	counts := map[string]int{}
	for i := 0; i < 8; i++ {
		counts[s.Select("order", list, "").ID]++
	}
	assert.Equal(t, map[string]int{"a": 6, "b": 2}, counts)
}

func TestWeightedRoundRobin_DefaultWeightIsEven(t *testing.T) {
	s := mustStrategy(t, WeightedRoundRobin, nil)
	list := instances("a", "b", "c")

	counts := map[string]int{}
	for i := 0; i < 9; i++ {
		counts[s.Select("order", list, "").ID]++
	}
	assert.Equal(t, map[string]int{"a": 3, "b": 3, "c": 3}, counts)
}

func TestWeightedRoundRobin_FractionalWeights(t *testing.T) {
	cases := []struct {
		weights map[string]string
		want    map[string]int
	}{
		{map[string]string{"a": "0.5", "b": "0.5"}, map[string]int{"a": 50, "b": 50}},
		{map[string]string{"a": "2.5", "b": "2.5"}, map[string]int{"a": 50, "b": 50}},
		{map[string]string{"a": "0.25", "b": "0.75"}, map[string]int{"a": 25, "b": 75}},
		{map[string]string{"a": "1.5", "b": "0.5"}, map[string]int{"a": 75, "b": 25}},
	}
	for _, tc := range cases {
		s := mustStrategy(t, WeightedRoundRobin, nil)
		list := weighted(tc.weights, "a", "b")

		counts := map[string]int{}
		for i := 0; i < 100; i++ {
			counts[s.Select("order", list, "").ID]++
		}
		assert.Equal(t, tc.want, counts, "weights %v", tc.weights)
	}
}

func TestWeightedRoundRobin_Spreads(t *testing.T) {
	s := mustStrategy(t, WeightedRoundRobin, nil)
	list := weighted(map[string]string{"a": "5"}, "a", "b", "c")

	var seq []string
	for i := 0; i < 7; i++ {
		seq = append(seq, s.Select("order", list, "").ID)
	}
	// 平滑轮询不会把 a 的 5 次连续排在一起
	assert.Equal(t, []string{"a", "a", "b", "a", "c", "a", "a"}, seq)
}

func TestWeightedRoundRobin_InstanceRemoved(t *testing.T) {
	s := mustStrategy(t, WeightedRoundRobin, nil)
	list := weighted(map[string]string{"a": "2"}, "a", "b", "c")
	for i := 0; i < 5; i++ {
		s.Select("order", list, "")
	}

	shrunk := list[:2]
	counts := map[string]int{}
	for i := 0; i < 30; i++ {
		counts[s.Select("order", shrunk, "").ID]++
	}
	assert.InDelta(t, 20, counts["a"], 1)
	assert.InDelta(t, 10, counts["b"], 1)
}

func TestWeightedRandom(t *testing.T) {
	s := mustStrategy(t, WeightedRandom, nil)
	list := weighted(map[string]string{"a": "3", "b": "1"}, "a", "b")

	const n = 20000
	counts := map[string]int{}
	for i := 0; i < n; i++ {
		counts[s.Select("order", list, "").ID]++
	}
	assert.InDelta(t, 0.75, float64(counts["a"])/n, 0.03)
	assert.InDelta(t, 0.25, float64(counts["b"])/n, 0.03)
}

func TestIPHash(t *testing.T) {
	s := mustStrategy(t, IPHash, nil)
	list := instances("a", "b", "c", "d")

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("10.0.0.%d", i)
		first := s.Select("order", list, key)
		for j := 0; j < 5; j++ {
			assert.Same(t, first, s.Select("order", list, key))
		}
	}

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[s.Select("order", list, fmt.Sprintf("client-%d", i)).ID] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestStrategiesOnlyReturnCandidates(t *testing.T) {
	list := instances("x", "y")
	for _, name := range []string{RoundRobin, LeastConnections, Random, WeightedRoundRobin, WeightedRandom, IPHash} {
		s := mustStrategy(t, name, staticCounter{})
		for i := 0; i < 20; i++ {
			assert.Contains(t, list, s.Select("order", list, fmt.Sprint(i)), name)
		}
	}
}
