package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/ceyewan/meshlink/balancer"
	"github.com/ceyewan/meshlink/client"
	"github.com/ceyewan/meshlink/eventbus"
	"github.com/ceyewan/meshlink/mesh"
	"github.com/ceyewan/meshlink/pubsub"
	"github.com/ceyewan/meshlink/registry"
	"github.com/ceyewan/meshlink/trace"
)

const demoService = "inventory"

type demoFlags struct {
	instances int
	flaky     int
	requests  int
	strategy  string
}

func newDemoCommand(flags *rootFlags) *cobra.Command {
	df := &demoFlags{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run fake upstreams and exercise every mesh component",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := flags.load(cmd.Context())
			if err != nil {
				return err
			}
			if df.strategy != "" {
				cfg.Balancer.Strategy = df.strategy
			}
			if cfg.Balancer.RetryDelay == 0 {
				cfg.Balancer.RetryDelay = 10 * time.Millisecond
			}
			return runDemo(cmd.Context(), cmd.OutOrStdout(), cfg, df)
		},
	}
	cmd.Flags().IntVar(&df.instances, "instances", 3, "number of fake upstream instances")
	cmd.Flags().IntVar(&df.flaky, "flaky", 1, "how many of the instances always answer 503")
	cmd.Flags().IntVar(&df.requests, "requests", 30, "number of balanced calls")
	cmd.Flags().StringVar(&df.strategy, "strategy", "", "override balancer.strategy")
	return cmd
}

func runDemo(ctx context.Context, out io.Writer, cfg *mesh.Config, df *demoFlags) error {
	if df.instances <= 0 {
		return errors.New("demo: --instances must be positive")
	}

	m, err := mesh.New(cfg)
	if err != nil {
		return err
	}
	if err := m.Start(ctx); err != nil {
		return err
	}
	defer m.Stop(context.Background())

	gin.SetMode(gin.ReleaseMode)
	for i := 0; i < df.instances; i++ {
		status := http.StatusOK
		if i < df.flaky {
			status = http.StatusServiceUnavailable
		}
		host, port, shutdown, err := startUpstream(strconv.Itoa(i), status)
		if err != nil {
			return err
		}
		defer shutdown()

		if _, err := m.Registry.Register(registry.Registration{
			ServiceName: demoService,
			ID:          fmt.Sprintf("%s-%d", demoService, i),
			Host:        host,
			Port:        port,
			Version:     "v1",
			Metadata:    map[string]string{registry.MetadataWeight: strconv.Itoa(i + 1)},
		}); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "== load balancing (%s) ==\n", m.Balancer.Strategy().Name())
	hits := make(map[string]int)
	failed := 0
	for i := 0; i < df.requests; i++ {
		res := m.Balancer.Call(ctx, demoService, balancer.Request{
			Request: client.Request{Method: http.MethodGet, Path: "/stock/sku-" + strconv.Itoa(i)},
			HashKey: "client-" + strconv.Itoa(i%4),
		})
		if !res.Success {
			failed++
			continue
		}
		hits[res.Instance.ID]++
	}
	ids := make([]string, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(out, "  %-14s %d\n", id, hits[id])
	}
	fmt.Fprintf(out, "  failed calls   %d\n", failed)

	fmt.Fprintln(out, "== circuit breakers ==")
	for _, s := range m.Breakers.Stats() {
		fmt.Fprintf(out, "  %-14s %-9s failures=%d\n", s.Instance, s.State, s.Failures)
	}

	fmt.Fprintln(out, "== services ==")
	for _, s := range m.Registry.GetAllServices() {
		fmt.Fprintf(out, "  %s instances=%d available=%d status=%s\n", s.Name, s.Instances, s.AvailableInstances, s.Status)
	}

	fmt.Fprintln(out, "== publish with ack ==")
	unsub, err := m.PubSub.Subscribe(ctx, "stock", func(ctx context.Context, msg *pubsub.Message) error {
		if m.Config().PubSub.AutoAck {
			return nil
		}
		return m.PubSub.Ack(ctx, msg)
	})
	if err != nil {
		return err
	}
	defer unsub()
	msg, err := pubsub.NewMessage("stock.reserved", map[string]any{"sku": "sku-1", "qty": 2})
	if err != nil {
		return err
	}
	ack := m.PubSub.PublishWithAck(ctx, "stock", msg, 2*time.Second)
	fmt.Fprintf(out, "  message=%s acknowledged=%t duration=%s\n", ack.MessageID, ack.Acknowledged, ack.Duration.Round(time.Microsecond))

	fmt.Fprintln(out, "== event bus ==")
	m.Events.Subscribe("stock.reserved", "ledger", func(context.Context, eventbus.DomainEvent) error { return nil })
	m.Events.Subscribe("stock.reserved", "notifier", func(context.Context, eventbus.DomainEvent) error {
		return errors.New("mail relay unreachable")
	})
	rec, err := m.Events.Publish(ctx, eventbus.DomainEvent{Type: "stock.reserved", AggregateID: "sku-1", Payload: msg.Payload})
	if err != nil {
		return err
	}
	for _, r := range rec.Results {
		fmt.Fprintf(out, "  %-9s success=%t %s\n", r.Handler, r.Success, r.Error)
	}
	stats := m.Events.Stats(time.Time{}, time.Time{})
	fmt.Fprintf(out, "  total=%d byType=%v byDate=%v\n", stats.Total, stats.ByType, stats.ByDate)
	return nil
}

// startUpstream 在随机端口上启动一个固定返回 status 的假上游
func startUpstream(name string, status int) (string, int, func(), error) {
	r := gin.New()
	r.Use(trace.GinMiddleware(name))
	r.GET("/stock/:sku", func(c *gin.Context) {
		c.JSON(status, gin.H{"sku": c.Param("sku"), "upstream": name, "correlationId": c.GetHeader(client.HeaderCorrelationID)})
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", 0, nil, err
	}
	srv := &http.Server{Handler: r, ReadHeaderTimeout: time.Second}
	go func() { _ = srv.Serve(ln) }()

	addr := ln.Addr().(*net.TCPAddr)
	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return addr.IP.String(), addr.Port, shutdown, nil
}
