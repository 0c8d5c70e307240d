package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Manager manages hook registration and asynchronous execution. A nil
// *Manager accepts events and drops them.
type Manager struct {
	hooks     map[EventType][]Hook
	stdioHook *StdioHook
	mu        sync.RWMutex
	pool      *executionPool
	logger    *slog.Logger
	config    Config
}

// NewManager creates a new hook manager
func NewManager(config Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}

	m := &Manager{
		hooks:  make(map[EventType][]Hook),
		logger: logger,
		config: config,
		pool:   newExecutionPool(config.Concurrency, config.Timeout, logger),
	}
	if config.StdioFormat != "" {
		if err := m.EnableStdioOutput(config.StdioFormat); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterHook registers a hook for the specified event type
func (m *Manager) RegisterHook(eventType EventType, hook Hook) error {
	if hook == nil {
		return fmt.Errorf("cannot register nil hook")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks[eventType] = append(m.hooks[eventType], hook)
	m.logger.Info("Hook registered",
		"event_type", eventType,
		"hook_type", hook.Type(),
		"hook_id", hook.ID())
	return nil
}

// UnregisterHook removes a hook by ID from the specified event type
func (m *Manager) UnregisterHook(eventType EventType, hookID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	hooks := m.hooks[eventType]
	for i, hook := range hooks {
		if hook.ID() == hookID {
			m.hooks[eventType] = append(hooks[:i:i], hooks[i+1:]...)
			return true
		}
	}
	return false
}

// TriggerEvent executes all registered hooks for the given event without blocking the caller.
func (m *Manager) TriggerEvent(ctx context.Context, event Event) {
	if m == nil {
		return
	}

	m.mu.RLock()
	hooks := make([]Hook, len(m.hooks[event.Type]), len(m.hooks[event.Type])+1)
	copy(hooks, m.hooks[event.Type])
	if m.stdioHook != nil {
		hooks = append(hooks, m.stdioHook)
	}
	m.mu.RUnlock()

	if len(hooks) == 0 {
		return
	}

	m.logger.Debug("Triggering event",
		"event_type", event.Type,
		"hook_count", len(hooks),
		"event", event.String())

	for _, hook := range hooks {
		m.pool.execute(ctx, hook, event)
	}
}

// EnableStdioOutput enables structured event output on stderr
func (m *Manager) EnableStdioOutput(format string) error {
	if format != "json" && format != "env" {
		return fmt.Errorf("unsupported stdio format: %s", format)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stdioHook = NewStdioHook("stdio", format, os.Stderr)
	m.logger.Info("Stdio output enabled", "format", format)
	return nil
}

// HookCount returns the number of hooks registered for eventType.
func (m *Manager) HookCount(eventType EventType) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hooks[eventType])
}

// Close waits for pending executions. Events triggered afterwards are dropped.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.pool.close()
	m.logger.Info("Hook manager closed")
	return nil
}

// executionPool bounds concurrent hook executions.
type executionPool struct {
	workers chan struct{}
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func newExecutionPool(size int, timeout time.Duration, logger *slog.Logger) *executionPool {
	return &executionPool{
		workers: make(chan struct{}, size),
		timeout: timeout,
		logger:  logger,
	}
}

// execute runs a hook in the execution pool
func (ep *executionPool) execute(ctx context.Context, hook Hook, event Event) {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return
	}
	ep.wg.Add(1)
	ep.mu.Unlock()

	go func() {
		defer ep.wg.Done()
		ep.workers <- struct{}{}
		defer func() { <-ep.workers }()

		// Hooks outlive the connection that triggered them.
		execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ep.timeout)
		defer cancel()

		start := time.Now()
		err := hook.Execute(execCtx, event)
		duration := time.Since(start)

		if err != nil {
			ep.logger.Error("Hook execution failed",
				"hook_type", hook.Type(),
				"hook_id", hook.ID(),
				"event_type", event.Type,
				"duration_ms", duration.Milliseconds(),
				"error", err)
			return
		}
		ep.logger.Debug("Hook executed successfully",
			"hook_type", hook.Type(),
			"hook_id", hook.ID(),
			"event_type", event.Type,
			"duration_ms", duration.Milliseconds())
	}()
}

func (ep *executionPool) close() {
	ep.mu.Lock()
	ep.closed = true
	ep.mu.Unlock()
	ep.wg.Wait()
}
