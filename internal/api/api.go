// Package api wires the ShopFlow modules together and serves the HTTP
// surface: the Twilio inbound webhook, a health check, and flow definition
// introspection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopflowbot/shopflow/internal/catalog"
	"github.com/shopflowbot/shopflow/internal/flow"
	"github.com/shopflowbot/shopflow/internal/messaging"
	"github.com/shopflowbot/shopflow/internal/session"
	"github.com/shopflowbot/shopflow/internal/twiliowhatsapp"
	"github.com/shopflowbot/shopflow/internal/whatsapp"
)

// Default server configuration
const (
	// DefaultAddr is the default API listen address
	DefaultAddr = ":8080"
	// DefaultSweepInterval is how often expired sessions are swept
	DefaultSweepInterval = 5 * time.Minute
	// ChannelWhatsmeow selects the whatsmeow-based WhatsApp channel
	ChannelWhatsmeow = "whatsmeow"
	// ChannelTwilio selects the Twilio webhook channel
	ChannelTwilio = "twilio"
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	Channel       string
	FlowFile      string
	TriggerCode   string
	SweepInterval time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithChannel selects the messaging channel ("whatsmeow" or "twilio").
func WithChannel(channel string) Option {
	return func(o *Opts) { o.Channel = channel }
}

// WithFlowFile loads the flow definition from a YAML file instead of the
// compiled-in default.
func WithFlowFile(path string) Option {
	return func(o *Opts) { o.FlowFile = path }
}

// WithTriggerCode gates session creation on an exact-match trigger word.
// Only applies to the compiled-in default flow.
func WithTriggerCode(code string) Option {
	return func(o *Opts) { o.TriggerCode = code }
}

// WithSweepInterval sets the session TTL sweep interval.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Opts) { o.SweepInterval = d }
}

// Server holds the wired modules for the running service.
type Server struct {
	cfg       Opts
	def       *flow.FlowDefinition
	sessions  *session.InMemoryStore
	service   messaging.Service
	responder *messaging.Responder
	httpSrv   *http.Server
}

// Run builds all modules from the given options and serves until SIGINT or
// SIGTERM. Flow definition validation failures abort startup.
func Run(waOpts []whatsapp.Option, catOpts []catalog.Option, apiOpts []Option) error {
	srv, err := NewServer(waOpts, catOpts, apiOpts)
	if err != nil {
		return err
	}
	return srv.Serve()
}

// NewServer wires the flow definition, session store, catalog client,
// messaging channel, interpreter, and responder.
func NewServer(waOpts []whatsapp.Option, catOpts []catalog.Option, apiOpts []Option) (*Server, error) {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Channel == "" {
		cfg.Channel = ChannelWhatsmeow
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	// Flow definition: file wins over the compiled-in default. A definition
	// that fails validation must prevent startup.
	var def *flow.FlowDefinition
	var err error
	if cfg.FlowFile != "" {
		def, err = flow.LoadDefinitionFile(cfg.FlowFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load flow definition: %w", err)
		}
	} else {
		def = flow.DefaultDefinition(cfg.TriggerCode)
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("default flow definition invalid: %w", err)
		}
		slog.Info("Using compiled-in flow definition", "flow", def.ID, "trigger_code_set", cfg.TriggerCode != "")
	}

	sessions := session.NewInMemoryStore(session.WithTimeout(def.SessionTimeout))

	// Catalog is optional: without it, action steps report not-configured
	// rather than failing turns.
	var interpreterOpts []flow.InterpreterOption
	catClient, err := catalog.NewHTTPClient(catOpts...)
	switch {
	case err == nil:
		interpreterOpts = append(interpreterOpts, flow.WithCatalog(catClient))
	case errors.Is(err, catalog.ErrNotConfigured):
		slog.Warn("Catalog backend not configured; catalog actions will be reported as unavailable")
	default:
		return nil, fmt.Errorf("failed to create catalog client: %w", err)
	}

	service, err := buildService(cfg.Channel, waOpts)
	if err != nil {
		return nil, err
	}

	interpreter := flow.NewInterpreter(def, sessions, interpreterOpts...)
	responder := messaging.NewResponder(service, interpreter)

	srv := &Server{
		cfg:       cfg,
		def:       def,
		sessions:  sessions,
		service:   service,
		responder: responder,
	}
	srv.httpSrv = &http.Server{Addr: cfg.Addr, Handler: srv.routes()}
	return srv, nil
}

func buildService(channel string, waOpts []whatsapp.Option) (messaging.Service, error) {
	switch channel {
	case ChannelTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), nil
	case ChannelWhatsmeow:
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil
	default:
		return nil, fmt.Errorf("unknown messaging channel %q", channel)
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/flow", s.flowHandler)
	if twilio, ok := s.service.(*messaging.TwilioService); ok {
		mux.Handle("/webhook/twilio", twilio.WebhookHandler())
	}
	return mux
}

// Serve starts background processing and the HTTP server, blocking until
// shutdown.
func (s *Server) Serve() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	s.responder.Start(ctx)
	s.sessions.StartSweeper(ctx, s.cfg.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ShopFlow API listening", "addr", s.cfg.Addr, "channel", s.cfg.Channel)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-sigCh:
		slog.Info("Shutting down on signal", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	s.responder.Stop()
	if err := s.service.Stop(); err != nil {
		slog.Error("Messaging service stop failed", "error", err)
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"flow":     s.def.ID,
		"sessions": s.sessions.Len(),
	})
}

// flowHandler exposes a read-only summary of the loaded flow definition.
func (s *Server) flowHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	steps := make(map[string]string, len(s.def.Steps))
	for id, step := range s.def.Steps {
		steps[string(id)] = stepTypeName(step)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":              s.def.ID,
		"initial_step":    string(s.def.InitialStepID),
		"recovery_step":   string(s.def.RecoveryStepID),
		"session_timeout": s.def.SessionTimeout.String(),
		"steps":           steps,
	})
}

func stepTypeName(step flow.Step) string {
	switch step.(type) {
	case *flow.TriggerStep:
		return "trigger"
	case *flow.ChoiceStep:
		return "choice"
	case *flow.InputStep:
		return "input"
	case *flow.ImageInputStep:
		return "image_input"
	case *flow.ActionStep:
		return "action"
	case *flow.TerminalStep:
		return "terminal"
	default:
		return "unknown"
	}
}
