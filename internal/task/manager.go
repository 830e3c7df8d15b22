// Package task supervises long-running loops: a runner that returns an error
// or panics is restarted after a backoff, and cancellation stops everything
// cleanly.
package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

type Runner interface {
	Run(ctx context.Context) error
}

type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

type namedRunner struct {
	name   string
	runner Runner
}

type Manager struct {
	backoff     time.Duration
	runners     []namedRunner
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	startedOnce sync.Once
}

func NewManager(backoff time.Duration) *Manager {
	return &Manager{
		backoff: backoff,
	}
}

// Add registers a runner under a name. Must be called before Start.
func (m *Manager) Add(name string, r Runner) {
	m.runners = append(m.runners, namedRunner{name: name, runner: r})
}

func (m *Manager) Start(parent context.Context) {
	m.startedOnce.Do(func() {
		m.ctx, m.cancel = context.WithCancel(parent)
		for _, nr := range m.runners {
			m.wg.Add(1)
			go m.runOne(nr)
		}
	})
}

func (m *Manager) runOne(nr namedRunner) {
	defer m.wg.Done()

	for {
		err := safeRun(m.ctx, nr.runner)

		if err == nil || errors.Is(err, context.Canceled) {
			return
		}

		log.Printf("[WARN] task %s stopped with error: %v", nr.name, err)

		select {
		case <-time.After(m.backoff):
		case <-m.ctx.Done():
			return
		}
	}
}

// safeRun converts a runner panic into an error so the supervisor can
// restart it instead of crashing the process.
func safeRun(ctx context.Context, r Runner) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return r.Run(ctx)
}

func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
