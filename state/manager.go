// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentwire/agentwire"
	"github.com/agentwire/agentwire/history"
)

// DefaultChangeSubject is the sink subject task-change notifications are
// published to unless overridden.
const DefaultChangeSubject = "agentwire.tasks.changes"

// keyedMutex serializes work per string key. Two concurrent operations on
// the same task id take turns; operations on different ids do not contend.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for key and returns its unlock function.
func (km *keyedMutex) lock(key string) func() {
	km.mu.Lock()
	m, ok := km.locks[key]
	if !ok {
		m = &sync.Mutex{}
		km.locks[key] = m
	}
	km.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Manager owns the task lifecycle: it materializes StateData on first
// contact, merges new messages into both the audit history and the
// policy-derived context history, persists through the Store, and publishes
// change notifications to the Sink.
//
// All state-mutating operations on the same task id are serialized through a
// per-id mutex; WithTask extends the same exclusive section across a whole
// read-modify-write cycle, so a send racing a webhook delivery cannot lose
// an update.
type Manager struct {
	store    Store
	strategy history.Strategy
	sink     Sink
	subject  string
	locks    *keyedMutex
	logger   *slog.Logger
	tracer   trace.Tracer
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSink sets the event sink for change notifications.
func WithSink(sink Sink) ManagerOption {
	return func(m *Manager) { m.sink = sink }
}

// WithChangeSubject overrides the sink subject.
func WithChangeSubject(subject string) ManagerOption {
	return func(m *Manager) { m.subject = subject }
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithTracer sets the manager's tracer.
func WithTracer(tracer trace.Tracer) ManagerOption {
	return func(m *Manager) { m.tracer = tracer }
}

// NewManager creates a Manager over the given store and history strategy.
func NewManager(store Store, strategy history.Strategy, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if strategy == nil {
		return nil, fmt.Errorf("history strategy cannot be nil")
	}

	m := &Manager{
		store:    store,
		strategy: strategy,
		sink:     NopSink{},
		subject:  DefaultChangeSubject,
		locks:    newKeyedMutex(),
		logger:   slog.Default(),
		tracer:   otel.GetTracerProvider().Tracer("github.com/agentwire/agentwire/state"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Strategy returns the configured history strategy.
func (m *Manager) Strategy() history.Strategy {
	return m.strategy
}

// Tx is the per-task exclusive section handed to a WithTask callback. Its
// operations run without re-acquiring the per-id lock, so a whole
// read-modify-write cycle observes and produces one consistent record.
type Tx struct {
	m      *Manager
	taskID string
}

// WithTask runs fn while holding the task's exclusive section. Concurrent
// sends and webhook deliveries for the same id wait until fn returns, so an
// update applied elsewhere cannot land between fn's read and its write.
func (m *Manager) WithTask(taskID string, fn func(tx *Tx) error) error {
	if taskID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	unlock := m.locks.lock(taskID)
	defer unlock()
	return fn(&Tx{m: m, taskID: taskID})
}

// Get retrieves the task's state, or ErrNotFound.
func (tx *Tx) Get(ctx context.Context) (*agentwire.StateData, error) {
	return tx.m.store.Get(ctx, tx.taskID)
}

// GetOrCreate materializes state for the task with Manager.GetOrCreate's
// semantics.
func (tx *Tx) GetOrCreate(ctx context.Context, sessionID string, message agentwire.Message, metadata map[string]any, push *agentwire.PushNotificationConfig) (*agentwire.StateData, error) {
	return tx.m.getOrCreate(ctx, tx.taskID, sessionID, message, metadata, push)
}

// Update overwrites the stored record with Manager.Update's semantics.
func (tx *Tx) Update(ctx context.Context, data *agentwire.StateData) error {
	if data.TaskID != tx.taskID {
		return fmt.Errorf("state data task ID mismatch: %s vs %s", data.TaskID, tx.taskID)
	}
	return tx.m.update(ctx, data)
}

// ApplyWebhookResult merges an external snapshot with
// Manager.ApplyWebhookResult's semantics.
func (tx *Tx) ApplyWebhookResult(ctx context.Context, incoming *agentwire.Task) (*agentwire.StateData, error) {
	return tx.m.applyWebhookResult(ctx, tx.taskID, incoming)
}

// Get retrieves the state for a task id, or ErrNotFound.
func (m *Manager) Get(ctx context.Context, taskID string) (*agentwire.StateData, error) {
	return m.store.Get(ctx, taskID)
}

// GetOrCreate materializes state for a task id. On first contact it creates
// a fresh record in WORKING state whose history holds only the incoming
// message. On every later contact it appends the message to the audit
// history, refreshes the context history through the strategy, merges request
// metadata (new keys win), adopts a fresh push config if supplied, and moves
// an input-required task back to WORKING.
func (m *Manager) GetOrCreate(ctx context.Context, taskID, sessionID string, message agentwire.Message, metadata map[string]any, push *agentwire.PushNotificationConfig) (*agentwire.StateData, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task ID cannot be empty")
	}

	unlock := m.locks.lock(taskID)
	defer unlock()

	return m.getOrCreate(ctx, taskID, sessionID, message, metadata, push)
}

func (m *Manager) getOrCreate(ctx context.Context, taskID, sessionID string, message agentwire.Message, metadata map[string]any, push *agentwire.PushNotificationConfig) (*agentwire.StateData, error) {
	ctx, span := m.tracer.Start(ctx, "state.Manager.GetOrCreate",
		trace.WithAttributes(attribute.String("task_id", taskID)))
	defer span.End()

	existing, err := m.store.Get(ctx, taskID)
	switch {
	case errors.Is(err, ErrNotFound):
		return m.create(ctx, taskID, sessionID, message, metadata, push)
	case err != nil:
		return nil, fmt.Errorf("failed to load state for task %s: %w", taskID, err)
	}

	existing.Task.History = append(existing.Task.History, message)
	existing.ContextHistory = m.strategy.UpdateHistory(existing.ContextHistory, []agentwire.Message{message})
	existing.Task.Metadata = mergeMetadata(existing.Task.Metadata, metadata)
	if push != nil {
		existing.PushNotificationConfig = push
	}
	if existing.Task.Status.State == agentwire.TaskStateInputRequired {
		existing.Task.Status = agentwire.NewTaskStatus(agentwire.TaskStateWorking)
	}

	if err := m.persist(ctx, existing); err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "task state updated", slog.String("task_id", taskID), slog.Int("history_len", len(existing.Task.History)))
	return existing, nil
}

func (m *Manager) create(ctx context.Context, taskID, sessionID string, message agentwire.Message, metadata map[string]any, push *agentwire.PushNotificationConfig) (*agentwire.StateData, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	data := &agentwire.StateData{
		TaskID: taskID,
		Task: &agentwire.Task{
			ID:        taskID,
			SessionID: sessionID,
			Status:    agentwire.NewTaskStatus(agentwire.TaskStateWorking),
			History:   []agentwire.Message{message},
			Metadata:  metadata,
		},
		ContextHistory:         []agentwire.Message{message},
		PushNotificationConfig: push,
	}
	if err := m.persist(ctx, data); err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "task state created", slog.String("task_id", taskID), slog.String("session_id", sessionID))
	return data, nil
}

// Update unconditionally overwrites the stored record and publishes a change
// notification. Publish failures are swallowed.
func (m *Manager) Update(ctx context.Context, data *agentwire.StateData) error {
	unlock := m.locks.lock(data.TaskID)
	defer unlock()

	return m.update(ctx, data)
}

func (m *Manager) update(ctx context.Context, data *agentwire.StateData) error {
	ctx, span := m.tracer.Start(ctx, "state.Manager.Update",
		trace.WithAttributes(attribute.String("task_id", data.TaskID)))
	defer span.End()

	if err := data.Validate(); err != nil {
		return fmt.Errorf("invalid state data: %w", err)
	}

	return m.persist(ctx, data)
}

// ApplyWebhookResult merges an externally produced task snapshot into
// existing state: history entries are appended, artifacts folded in by
// index, metadata merged with the incoming side winning, and the incoming
// status adopted. Each incoming artifact also yields one synthetic tool
// message merged into the context history through the strategy.
//
// An externally delivered result cannot create a task: absent prior state,
// the task-not-found protocol error is returned.
func (m *Manager) ApplyWebhookResult(ctx context.Context, taskID string, incoming *agentwire.Task) (*agentwire.StateData, error) {
	unlock := m.locks.lock(taskID)
	defer unlock()

	return m.applyWebhookResult(ctx, taskID, incoming)
}

func (m *Manager) applyWebhookResult(ctx context.Context, taskID string, incoming *agentwire.Task) (*agentwire.StateData, error) {
	ctx, span := m.tracer.Start(ctx, "state.Manager.ApplyWebhookResult",
		trace.WithAttributes(attribute.String("task_id", taskID)))
	defer span.End()

	if incoming == nil {
		return nil, fmt.Errorf("incoming task cannot be nil")
	}

	existing, err := m.store.Get(ctx, taskID)
	if errors.Is(err, ErrNotFound) {
		return nil, agentwire.NewTaskNotFoundError()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state for task %s: %w", taskID, err)
	}

	task := existing.Task
	task.History = append(task.History, incoming.History...)
	task.Metadata = mergeMetadata(task.Metadata, incoming.Metadata)
	task.Status = incoming.Status

	for _, artifact := range incoming.Artifacts {
		task.Artifacts = agentwire.MergeArtifact(task.Artifacts, artifact)
		if len(artifact.Parts) > 0 {
			toolMessage := agentwire.NewToolMessage(artifact.Parts, artifact.Metadata)
			existing.ContextHistory = m.strategy.UpdateHistory(existing.ContextHistory, []agentwire.Message{toolMessage})
		}
	}

	if err := m.persist(ctx, existing); err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "webhook result applied", slog.String("task_id", taskID), slog.String("state", string(task.Status.State)))
	return existing, nil
}

// persist writes through the store and fires the change notification.
func (m *Manager) persist(ctx context.Context, data *agentwire.StateData) error {
	if err := m.store.Put(ctx, data.TaskID, data); err != nil {
		return fmt.Errorf("failed to persist state for task %s: %w", data.TaskID, err)
	}

	change := TaskChange{
		TaskID:   data.TaskID,
		Changed:  true,
		Complete: data.Task.Status.State == agentwire.TaskStateCompleted,
	}
	if err := m.sink.Publish(ctx, m.subject, change); err != nil {
		m.logger.WarnContext(ctx, "task change publish failed", slog.String("task_id", data.TaskID), slog.String("error", err.Error()))
	}
	return nil
}

func mergeMetadata(existing, incoming map[string]any) map[string]any {
	if len(incoming) == 0 {
		if existing == nil {
			return map[string]any{}
		}
		return existing
	}
	merged := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}
