package cronrunner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type switches map[string]bool

func (s switches) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if v, ok := s[key]; ok {
		return v
	}
	return fallback
}

func TestRunner_GatedJobs(t *testing.T) {
	var on, off int32
	r := New(zap.NewNop(), context.Background(), switches{"feature.off": false})
	if _, err := r.Add(Job{Name: "on", Spec: "@every 1s", Feature: "feature.on", Run: func(context.Context) error {
		atomic.AddInt32(&on, 1)
		return nil
	}}); err != nil {
		t.Fatalf("add on: %v", err)
	}
	if _, err := r.Add(Job{Name: "off", Spec: "@every 1s", Feature: "feature.off", Run: func(context.Context) error {
		atomic.AddInt32(&off, 1)
		return nil
	}}); err != nil {
		t.Fatalf("add off: %v", err)
	}
	r.Start()
	time.Sleep(2200 * time.Millisecond)
	r.Stop()

	if atomic.LoadInt32(&on) == 0 {
		t.Fatalf("enabled job never ran")
	}
	if n := atomic.LoadInt32(&off); n != 0 {
		t.Fatalf("disabled job ran %d times", n)
	}
}

func TestRunner_EmptySpecIsSkipped(t *testing.T) {
	r := New(nil, nil, nil)
	id, err := r.Add(Job{Name: "noop", Run: func(context.Context) error { return nil }})
	if err != nil || id != 0 {
		t.Fatalf("id=%d err=%v", id, err)
	}
	if _, err := r.Add(Job{Name: "bad", Spec: "not a spec", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatalf("expected parse error")
	}
}
