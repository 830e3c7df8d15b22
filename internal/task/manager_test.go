package task

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerStartStop(t *testing.T) {
	m := NewManager(10 * time.Millisecond)

	var runs atomic.Int32
	m.Add("loop", RunnerFunc(func(ctx context.Context) error {
		runs.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}))

	m.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	m.Stop()

	if got := runs.Load(); got != 1 {
		t.Fatalf("expected runner to run once, ran %d times", got)
	}
}

func TestManagerRestartsFailedRunner(t *testing.T) {
	m := NewManager(5 * time.Millisecond)

	var runs atomic.Int32
	m.Add("flaky", RunnerFunc(func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return fmt.Errorf("transient failure")
		}
		<-ctx.Done()
		return ctx.Err()
	}))

	m.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("runner restarted %d times, expected 3", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	m.Stop()
}

func TestManagerRecoversPanic(t *testing.T) {
	m := NewManager(5 * time.Millisecond)

	var runs atomic.Int32
	m.Add("panicky", RunnerFunc(func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("boom")
		}
		<-ctx.Done()
		return ctx.Err()
	}))

	m.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("panicked runner was not restarted")
		case <-time.After(5 * time.Millisecond):
		}
	}
	m.Stop()
}

func TestManagerRunsAllRunners(t *testing.T) {
	m := NewManager(time.Second)

	var a, b atomic.Bool
	m.Add("a", RunnerFunc(func(ctx context.Context) error {
		a.Store(true)
		<-ctx.Done()
		return ctx.Err()
	}))
	m.Add("b", RunnerFunc(func(ctx context.Context) error {
		b.Store(true)
		<-ctx.Done()
		return ctx.Err()
	}))

	m.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	m.Stop()

	if !a.Load() || !b.Load() {
		t.Fatalf("expected both runners to start, got a=%t b=%t", a.Load(), b.Load())
	}
}

func TestManagerStopBeforeStart(t *testing.T) {
	m := NewManager(time.Second)
	m.Stop() // must not panic or block
}
