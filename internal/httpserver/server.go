package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/deshartman/conversation-relay-flex-dialler/internal/config"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/dialer"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/flex"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/llm"
	appmiddleware "github.com/deshartman/conversation-relay-flex-dialler/internal/middleware"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/relay"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/session"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/silence"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/storage"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/tools"
)

// Server bundles the HTTP router and owned resources.
type Server struct {
	Router http.Handler
	store  *session.Memory
}

// New wires the full service: session registry, ticketing bridge, dialer,
// conversation engine dependencies and the relay socket.
func New(cfg config.Config, log *zap.Logger) (*Server, error) {
	store := session.NewMemory(cfg.SessionTTL)

	flexClient := flex.New(flex.Config{
		AccountSID:   cfg.TwilioAccountSID,
		AuthToken:    cfg.TwilioAuthToken,
		WorkspaceSID: cfg.WorkspaceSID,
		WorkflowSID:  cfg.WorkflowSID,
	}, log)

	dialSvc := dialer.New(dialer.Config{
		FromNumber:      cfg.FromNumber,
		RelayURL:        cfg.RelayURL,
		WelcomeGreeting: cfg.WelcomeGreeting,
	}, cfg.TwilioAccountSID, cfg.TwilioAuthToken, store, flexClient, log)

	archive, err := storage.New(storage.Config{
		URL:            cfg.SupabaseURL,
		ServiceRoleKey: cfg.SupabaseKey,
		Bucket:         cfg.SupabaseBucket,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	var relayArchive relay.Archive
	if archive != nil {
		relayArchive = archive
	}

	relayHandler := relay.NewHandler(
		relay.Config{
			SystemPrompt: cfg.SystemPrompt,
			Greeting:     "Greet the customer, introduce yourself and explain why you are calling.",
			TicketWait:   cfg.TicketWait,
			Silence: silence.Config{
				Threshold:    cfg.SilenceTimeout,
				MaxReminders: cfg.SilenceRetries,
			},
		},
		llm.NewClient(cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMBaseURL),
		tools.NewExecutor(cfg.ToolBaseURL, log),
		tools.Manifest(),
		flexClient,
		store,
		relayArchive,
		log,
	)

	handlers := NewHandlers(dialSvc, flexClient, store, relayHandler, log)
	e := routes(cfg, handlers, relayHandler.ServeRelay)
	return &Server{Router: e, store: store}, nil
}

// Close releases server-owned resources.
func (s *Server) Close() {
	if s.store != nil {
		s.store.Close()
	}
}

func routes(cfg config.Config, h *Handlers, relayFn echo.HandlerFunc) *echo.Echo {
	e := newEcho()
	e.GET("/healthz", h.Health)
	e.POST("/api/calls", h.StartCall)
	e.POST("/api/agent-message", h.AgentMessage)
	e.POST("/twilio/reservation", h.Reservation,
		appmiddleware.TwilioAuth(func() string { return cfg.TwilioAuthToken }))
	e.GET("/relay", relayFn)
	return e
}
