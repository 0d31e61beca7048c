package xerrors

import (
	"errors"
	"testing"
)

func TestWrap(t *testing.T) {
	if err := Wrap(nil, "context"); err != nil {
		t.Errorf("Wrap(nil) = %v，期望 nil", err)
	}

	base := errors.New("base error")
	wrapped := Wrap(base, "context")
	if wrapped.Error() != "context: base error" {
		t.Errorf("Wrap(err).Error() = %q", wrapped.Error())
	}
	if !errors.Is(wrapped, base) {
		t.Error("errors.Is(wrapped, base) = false，期望 true")
	}

	if got := Wrapf(base, "user %d", 7).Error(); got != "user 7: base error" {
		t.Errorf("Wrapf(err).Error() = %q", got)
	}
}

func TestCodedSentinel(t *testing.T) {
	sentinel := NewCoded("NO_INSTANCE", "no available instances")
	wrapped := Wrapf(sentinel, "service %s", "order")

	if !Is(wrapped, sentinel) {
		t.Fatal("Is(wrapped, sentinel) = false，期望 true")
	}
	if code := GetCode(wrapped); code != "NO_INSTANCE" {
		t.Errorf("GetCode = %q，期望 NO_INSTANCE", code)
	}
	if wrapped.Error() != "service order: no available instances" {
		t.Errorf("Error() = %q", wrapped.Error())
	}
}

func TestWithCode(t *testing.T) {
	if err := WithCode(nil, "CODE"); err != nil {
		t.Errorf("WithCode(nil) = %v，期望 nil", err)
	}

	base := errors.New("dial refused")
	coded := WithCode(base, "REQUEST_FAILED")
	if coded.Error() != "[REQUEST_FAILED] dial refused" {
		t.Errorf("WithCode(err).Error() = %q", coded.Error())
	}
	if !errors.Is(coded, base) {
		t.Error("errors.Is(coded, base) = false，期望 true")
	}
	if GetCode(base) != "" {
		t.Error("GetCode(plain) 期望为空")
	}
}

func TestCombine(t *testing.T) {
	if Combine(nil, nil) != nil {
		t.Error("Combine(nil, nil) 期望 nil")
	}
	e1 := errors.New("e1")
	if Combine(nil, e1) != e1 {
		t.Error("Combine 单个错误应原样返回")
	}
	e2 := errors.New("e2")
	combined := Combine(e1, e2)
	if !errors.Is(combined, e2) {
		t.Error("errors.Is(combined, e2) = false，期望 true")
	}
	if combined.Error() != "e1 (and 1 more errors)" {
		t.Errorf("combined.Error() = %q", combined.Error())
	}
}
