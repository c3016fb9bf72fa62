package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/deshartman/conversation-relay-flex-dialler/internal/dialer"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/flex"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/session"
)

// CallStarter places an outbound notification call.
type CallStarter interface {
	StartCall(ctx context.Context, req dialer.OutboundRequest) (*session.Call, error)
}

// ReservationAcceptor accepts an agent reservation on a routing task.
type ReservationAcceptor interface {
	AcceptReservation(ctx context.Context, taskSID, reservationSID string) error
}

// AgentInjector speaks a human agent's message into a live call.
type AgentInjector interface {
	InjectAgentMessage(token, text string) error
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	calls    CallStarter
	flex     ReservationAcceptor
	store    session.Store
	injector AgentInjector
	log      *zap.Logger
}

func NewHandlers(calls CallStarter, flexBridge ReservationAcceptor, store session.Store, injector AgentInjector, log *zap.Logger) *Handlers {
	return &Handlers{calls: calls, flex: flexBridge, store: store, injector: injector, log: log}
}

func (h *Handlers) Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// StartCall handles POST /api/calls.
func (h *Handlers) StartCall(c echo.Context) error {
	var req dialer.OutboundRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	call, err := h.calls.StartCall(c.Request().Context(), req)
	if err != nil {
		h.log.Warn("start call rejected", zap.Error(err))
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, map[string]string{
		"correlationToken": call.CorrelationToken,
		"callSid":          call.CallSID,
		"ticketId":         call.TicketID,
	})
}

// Reservation handles the TaskRouter assignment webhook on
// POST /twilio/reservation. The form payload is validated by the signature
// middleware before it gets here.
func (h *Handlers) Reservation(c echo.Context) error {
	params, _ := c.Get("twilioParams").(map[string]string)
	taskSID := params["TaskSid"]
	reservationSID := params["ReservationSid"]
	if taskSID == "" || reservationSID == "" {
		return c.String(http.StatusBadRequest, "missing TaskSid or ReservationSid")
	}

	attrs, err := flex.ParseTaskAttributes(params["TaskAttributes"])
	if err != nil {
		h.log.Warn("reservation with bad attributes", zap.Error(err))
		return c.String(http.StatusBadRequest, "bad TaskAttributes")
	}
	if attrs.CorrelationToken != "" {
		h.store.Update(attrs.CorrelationToken, func(s *session.Call) {
			s.ReservationSID = reservationSID
		})
	}

	if err := h.flex.AcceptReservation(c.Request().Context(), taskSID, reservationSID); err != nil {
		h.log.Warn("accept reservation failed", zap.Error(err))
		return c.String(http.StatusInternalServerError, "accept failed")
	}
	h.log.Info("reservation accepted",
		zap.String("taskSid", taskSID),
		zap.String("reservationSid", reservationSID))
	return c.String(http.StatusOK, "OK")
}

type agentMessageRequest struct {
	CorrelationToken string `json:"correlationToken"`
	Message          string `json:"message"`
}

// AgentMessage handles POST /api/agent-message.
func (h *Handlers) AgentMessage(c echo.Context) error {
	var req agentMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.CorrelationToken == "" || req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "correlationToken and message are required"})
	}
	if err := h.injector.InjectAgentMessage(req.CorrelationToken, req.Message); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}
