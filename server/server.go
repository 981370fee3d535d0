// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

// Package server implements the JSON-RPC task exchange surface: the HTTP
// dispatcher, the handler registry, the task builder that normalizes handler
// results, and the streaming event pipeline.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentwire/agentwire"
	"github.com/agentwire/agentwire/state"
	"github.com/agentwire/agentwire/webhook"
)

// Default endpoint paths.
const (
	DefaultRPCPath     = "/rpc"
	DefaultWebhookPath = "/webhook"
	AgentCardPath      = "/.well-known/agent.json"
	JWKSPath           = "/.well-known/jwks.json"
)

const (
	defaultReadTimeout = 30 * time.Second
	defaultIdleTimeout = 120 * time.Second
)

// Server is the protocol engine's HTTP surface. Handlers are registered per
// method before Start; the optional state manager turns the engine stateful.
type Server struct {
	addr     string
	rpcPath  string
	registry *Registry
	states   *state.Manager
	card     *agentwire.AgentCard
	keys     *webhook.KeyManager
	webhooks *webhook.Dispatcher
	logger   *slog.Logger
	tracer   trace.Tracer

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAddress sets the listen address.
func WithAddress(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithRPCPath overrides the JSON-RPC endpoint path.
func WithRPCPath(path string) Option {
	return func(s *Server) { s.rpcPath = path }
}

// WithStateManager turns the engine stateful: sends materialize durable
// state, and get/cancel/notification methods resolve against it.
func WithStateManager(m *state.Manager) Option {
	return func(s *Server) { s.states = m }
}

// WithAgentCard serves the given card at the well-known discovery path.
func WithAgentCard(card *agentwire.AgentCard) Option {
	return func(s *Server) { s.card = card }
}

// WithSigningKeys serves the key manager's JWKS at the well-known path and
// signs outbound webhook deliveries with the key pair under keyID.
func WithSigningKeys(keys *webhook.KeyManager, keyID string) Option {
	return func(s *Server) {
		s.keys = keys
		s.webhooks = webhook.NewDispatcher(webhook.WithSigningKeys(keys, keyID))
	}
}

// WithWebhookDispatcher overrides the outbound delivery dispatcher.
func WithWebhookDispatcher(d *webhook.Dispatcher) Option {
	return func(s *Server) { s.webhooks = d }
}

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTracer sets the server's tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) { s.tracer = tracer }
}

// NewServer creates a Server. Without a state manager the engine runs
// storeless: every method is pure handler dispatch.
func NewServer(opts ...Option) *Server {
	s := &Server{
		addr:     ":8080",
		rpcPath:  DefaultRPCPath,
		registry: NewRegistry(),
		webhooks: webhook.NewDispatcher(),
		logger:   slog.Default(),
		tracer:   otel.GetTracerProvider().Tracer("github.com/agentwire/agentwire/server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterOption configures one handler registration.
type RegisterOption func(*registerConfig)

type registerConfig struct {
	forwardToWebhook bool
}

// ForwardToWebhook marks a send registration so results are also delivered
// to the task's push notification URL.
func ForwardToWebhook() RegisterOption {
	return func(c *registerConfig) { c.forwardToWebhook = true }
}

func applyRegisterOptions(opts []RegisterOption) registerConfig {
	var cfg registerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// OnSendTask installs the tasks/send handler.
func (s *Server) OnSendTask(h SendHandler, opts ...RegisterOption) error {
	cfg := applyRegisterOptions(opts)
	return s.registry.Register(agentwire.MethodTasksSend, h, false, cfg.forwardToWebhook)
}

// OnSendTaskSubscribe installs the tasks/sendSubscribe handler.
func (s *Server) OnSendTaskSubscribe(h StreamHandler, opts ...RegisterOption) error {
	cfg := applyRegisterOptions(opts)
	return s.registry.Register(agentwire.MethodTasksSendSubscribe, h, true, cfg.forwardToWebhook)
}

// OnGetTask installs the tasks/get handler used in storeless mode.
func (s *Server) OnGetTask(h GetHandler) error {
	return s.registry.Register(agentwire.MethodTasksGet, h, false, false)
}

// OnCancelTask installs the tasks/cancel handler.
func (s *Server) OnCancelTask(h CancelHandler) error {
	return s.registry.Register(agentwire.MethodTasksCancel, h, false, false)
}

// OnSetPushNotification installs the tasks/pushNotification/set handler used
// in storeless mode.
func (s *Server) OnSetPushNotification(h SetPushHandler) error {
	return s.registry.Register(agentwire.MethodTasksPushNotificationSet, h, false, false)
}

// OnGetPushNotification installs the tasks/pushNotification/get handler used
// in storeless mode.
func (s *Server) OnGetPushNotification(h GetPushHandler) error {
	return s.registry.Register(agentwire.MethodTasksPushNotificationGet, h, false, false)
}

// OnWebhookResult installs the hook invoked when an external system posts a
// task result to the webhook endpoint.
func (s *Server) OnWebhookResult(h WebhookHandler) error {
	return s.registry.SetWebhook(h)
}

// Handler returns the routed HTTP handler for mounting into an existing
// server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+s.rpcPath, s.handleRPC)
	mux.HandleFunc("POST "+DefaultWebhookPath, s.handleInboundWebhook)
	if s.card != nil {
		mux.HandleFunc("GET "+AgentCardPath, s.handleAgentCard)
	}
	if s.keys != nil {
		mux.HandleFunc("GET "+JWKSPath, s.keys.JWKSHandler())
	}
	return mux
}

// Start begins serving and blocks until the listener fails or Stop is
// called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: defaultReadTimeout,
		IdleTimeout: defaultIdleTimeout,
	}

	s.logger.Info("server starting", slog.String("addr", s.addr), slog.String("rpc_path", s.rpcPath))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// handleAgentCard serves the agent card.
func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := sonic.ConfigDefault.NewEncoder(w).Encode(s.card); err != nil {
		http.Error(w, "Failed to encode agent card", http.StatusInternalServerError)
	}
}

// writeResponse writes one JSON-RPC response. Encoding failures degrade to a
// plain internal error so the client always receives an envelope.
func (s *Server) writeResponse(w http.ResponseWriter, resp *agentwire.Response) {
	payload, err := sonic.ConfigDefault.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode response", slog.String("error", err.Error()))
		payload, _ = sonic.ConfigDefault.Marshal(agentwire.NewErrorResponse(resp.ID, agentwire.NewInternalError()))
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}
