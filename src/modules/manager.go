// Package modules runs the long-lived parts of the board (HTTP app, hub
// listener, chat adapters) under one lifecycle.
package modules

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Module is a component that can be started and stopped.
type Module interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

// Manager starts modules in order and stops them in reverse.
type Manager struct {
	modules []Module
	mu      sync.Mutex
	started []Module
}

func NewManager(mods ...Module) *Manager {
	return &Manager{modules: mods}
}

// Add registers another module. It fails once the manager is running.
func (m *Manager) Add(mod Module) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started != nil {
		return fmt.Errorf("modules: cannot add %s after start", mod.Name())
	}
	m.modules = append(m.modules, mod)
	return nil
}

// Start starts every module. If one fails, those already started are stopped
// and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started != nil {
		return fmt.Errorf("modules: already started")
	}

	log := zap.L().Named("modules")
	started := make([]Module, 0, len(m.modules))
	for _, mod := range m.modules {
		if mod == nil {
			continue
		}
		if err := mod.Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				started[i].Stop(ctx)
			}
			return fmt.Errorf("module %s failed: %w", mod.Name(), err)
		}
		log.Info("module started", zap.String("module", mod.Name()))
		started = append(started, mod)
	}
	m.started = started
	return nil
}

// Stop stops the started modules in reverse order.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.started) - 1; i >= 0; i-- {
		m.started[i].Stop(ctx)
		zap.L().Named("modules").Info("module stopped", zap.String("module", m.started[i].Name()))
	}
	m.started = nil
}

// Func adapts a blocking run function into a Module. Start launches run in a
// goroutine; Stop cancels it and waits for it to return.
type Func struct {
	name string
	run  func(ctx context.Context) error

	cancel context.CancelFunc
	done   chan struct{}
}

func NewFunc(name string, run func(ctx context.Context) error) *Func {
	return &Func{name: name, run: run}
}

func (f *Func) Name() string { return f.name }

func (f *Func) Start(ctx context.Context) error {
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	go func() {
		defer close(f.done)
		if err := f.run(ctx); err != nil && ctx.Err() == nil {
			zap.L().Named("modules").Error("module exited", zap.String("module", f.name), zap.Error(err))
		}
	}()
	return nil
}

func (f *Func) Stop(ctx context.Context) {
	if f.cancel == nil {
		return
	}
	f.cancel()
	select {
	case <-f.done:
	case <-ctx.Done():
	}
}
