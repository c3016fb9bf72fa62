package relay

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/deshartman/conversation-relay-flex-dialler/internal/agent"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/llm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The relay connects server-to-server with no browser origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSender serializes writes to one socket. gorilla permits a single
// concurrent writer, and frames come from both the pump goroutine and the
// silence monitor.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSender) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Handler accepts relay WebSocket connections and runs one orchestrator per
// call. Connections are tracked by correlation token once paired so the
// agent-message endpoint can reach a live call.
type Handler struct {
	cfg       Config
	streamer  agent.Streamer
	runner    agent.ToolRunner
	manifest  []llm.Tool
	ticketing Ticketing
	store     SessionStore
	archive   Archive
	log       *zap.Logger

	active sync.Map // correlation token -> *Orchestrator
}

func NewHandler(cfg Config, streamer agent.Streamer, runner agent.ToolRunner, manifest []llm.Tool, ticketing Ticketing, store SessionStore, archive Archive, log *zap.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		streamer:  streamer,
		runner:    runner,
		manifest:  manifest,
		ticketing: ticketing,
		store:     store,
		archive:   archive,
		log:       log,
	}
}

// ServeRelay upgrades the request and drives the read loop until the socket
// closes or the orchestrator reports a fatal frame.
func (h *Handler) ServeRelay(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return err
	}
	defer conn.Close()

	engine := agent.NewSession(h.streamer, h.runner, h.manifest, h.log)
	orc := NewOrchestrator(h.cfg, &wsSender{conn: conn}, engine, h.ticketing, h.store, h.archive, h.log)

	registered := ""
	defer func() {
		if registered != "" {
			h.active.Delete(registered)
		}
		orc.Cleanup("socket-closed")
	}()

	for {
		var msg InboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("relay socket closed unexpectedly", zap.Error(err))
			}
			return nil
		}
		if err := orc.HandleMessage(msg); err != nil {
			h.log.Error("relay session aborted", zap.Error(err))
			return nil
		}
		if registered == "" {
			if token := orc.Token(); token != "" {
				h.active.Store(token, orc)
				registered = token
			}
		}
		if orc.State() == StateEnded {
			return nil
		}
	}
}

// InjectAgentMessage relays a human agent's line into the live call bound to
// the given correlation token.
func (h *Handler) InjectAgentMessage(token, text string) error {
	v, ok := h.active.Load(token)
	if !ok {
		return fmt.Errorf("no active call for token %q", token)
	}
	return v.(*Orchestrator).InjectAgentMessage(text)
}
