package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deshartman/conversation-relay-flex-dialler/internal/agent"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/llm"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/session"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/silence"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/tools"
)

// Ticketing mirrors the agent-desk side of a call: a running transcript
// channel plus a routing ticket that must be closed exactly once.
type Ticketing interface {
	PostTranscriptLine(ctx context.Context, channelID, author, body string) error
	CloseTicket(ctx context.Context, ticketID, reason string) error
}

// Engine is the conversation engine driving one call.
type Engine interface {
	AppendSystemContext(text string)
	GenerateTurn(ctx context.Context, role, text string)
	Events() <-chan agent.Event
	History() []llm.Message
	Close()
}

// Sender writes one JSON frame to the relay socket. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(v any) error
}

// SessionStore is the slice of the registry the orchestrator needs.
type SessionStore interface {
	AwaitTicket(ctx context.Context, token string, wait time.Duration) (*session.Call, bool)
	Update(token string, fn func(*session.Call)) bool
	Delete(token string)
}

// Archive persists the finished transcript. Optional; nil skips archival.
type Archive interface {
	Upload(ctx context.Context, path string, data []byte) error
}

type State string

const (
	StateAwaitingSetup State = "awaiting_setup"
	StateActive        State = "active"
	StateEnded         State = "ended"
)

const spokenApology = "I'm sorry, I ran into a problem just now. Could you say that again?"

// Config carries the per-deployment knobs for one call orchestration.
type Config struct {
	SystemPrompt string
	Greeting     string
	TicketWait   time.Duration
	Silence      silence.Config
}

// Orchestrator owns the lifecycle of a single relay connection: pair the
// socket with its dialled session, pump engine events out as relay frames,
// mirror the conversation into the ticket channel, watch for silence, and
// tear everything down exactly once.
type Orchestrator struct {
	cfg       Config
	sender    Sender
	engine    Engine
	ticketing Ticketing
	store     SessionStore
	archive   Archive
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	call  *session.Call

	monitor *silence.Monitor

	cleanupOnce sync.Once
}

func NewOrchestrator(cfg Config, sender Sender, engine Engine, ticketing Ticketing, store SessionStore, archive Archive, log *zap.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:       cfg,
		sender:    sender,
		engine:    engine,
		ticketing: ticketing,
		store:     store,
		archive:   archive,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateAwaitingSetup,
	}
	o.monitor = silence.NewMonitor(cfg.Silence, log, o.onSilenceReminder, o.onSilenceTimeout)
	// Subscribed before any turn can start so no event is dropped.
	go o.pump()
	return o
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Token returns the correlation token once setup has paired the connection.
func (o *Orchestrator) Token() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.call == nil {
		return ""
	}
	return o.call.CorrelationToken
}

// HandleMessage processes one inbound relay frame. A returned error means
// the connection is unusable and the read loop should stop.
func (o *Orchestrator) HandleMessage(msg InboundMessage) error {
	switch msg.Type {
	case TypeSetup:
		return o.handleSetup(msg)
	case TypePrompt:
		o.handlePrompt(msg)
	case TypeInterrupt:
		o.monitor.Activity()
		o.log.Debug("caller interrupted playback",
			zap.String("utterance", msg.UtteranceUntilInterrupt))
	case TypeDTMF:
		o.monitor.Activity()
		o.log.Info("dtmf received", zap.String("digit", msg.Digit))
	case TypeInfo:
		o.log.Debug("relay info frame")
	case TypeError:
		o.log.Warn("relay reported error", zap.String("description", msg.Description))
	default:
		o.log.Warn("unknown relay frame", zap.String("type", msg.Type))
	}
	return nil
}

func (o *Orchestrator) handleSetup(msg InboundMessage) error {
	o.mu.Lock()
	if o.state != StateAwaitingSetup {
		o.mu.Unlock()
		o.log.Error("duplicate setup frame ignored", zap.String("sessionId", msg.SessionID))
		return nil
	}
	o.mu.Unlock()

	token := msg.CustomParameters["correlationToken"]
	if token == "" {
		o.failSetup("setup frame missing correlation token")
		return fmt.Errorf("setup missing correlation token")
	}

	call, ok := o.store.AwaitTicket(o.ctx, token, o.cfg.TicketWait)
	if !ok {
		o.failSetup("no session for correlation token " + token)
		return fmt.Errorf("unknown correlation token %q", token)
	}
	if call.TicketChannelID == "" {
		// Ticket never materialized inside the wait budget. The call still
		// proceeds; transcript mirroring is skipped.
		o.log.Warn("ticket channel missing, continuing degraded",
			zap.String("correlationToken", token))
	}

	o.store.Update(token, func(c *session.Call) {
		c.CallSID = msg.CallSID
		c.RelaySessionID = msg.SessionID
	})
	call.CallSID = msg.CallSID
	call.RelaySessionID = msg.SessionID

	o.mu.Lock()
	o.call = call
	o.state = StateActive
	o.mu.Unlock()

	o.engine.AppendSystemContext(o.cfg.SystemPrompt)
	if call.CustomerContext != "" {
		o.engine.AppendSystemContext("Customer context: " + call.CustomerContext)
	}
	o.log.Info("relay session paired",
		zap.String("correlationToken", token),
		zap.String("callSid", msg.CallSID),
		zap.String("sessionId", msg.SessionID))

	o.monitor.Start()
	go o.engine.GenerateTurn(o.ctx, "system", o.cfg.Greeting)
	return nil
}

func (o *Orchestrator) handlePrompt(msg InboundMessage) {
	if o.State() != StateActive {
		o.log.Warn("prompt before setup completed, dropped")
		return
	}
	if msg.VoicePrompt == "" {
		return
	}
	o.monitor.Activity()
	// The caller line is mirrored before the model turn starts so the
	// ticket transcript always reads utterance-then-reply.
	o.postTranscript("customer", msg.VoicePrompt)
	go o.engine.GenerateTurn(o.ctx, "user", msg.VoicePrompt)
}

// InjectAgentMessage speaks a human agent's line into the call and records
// it as context for subsequent model turns.
func (o *Orchestrator) InjectAgentMessage(text string) error {
	if o.State() != StateActive {
		return fmt.Errorf("call is not active")
	}
	o.engine.AppendSystemContext("A human agent said to the caller: " + text)
	if err := o.sender.Send(NewTextMessage(text, true)); err != nil {
		return err
	}
	o.postTranscript("agent", text)
	return nil
}

func (o *Orchestrator) pump() {
	turnHadText := false
	for {
		select {
		case <-o.ctx.Done():
			return
		case ev, ok := <-o.engine.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case agent.EventToken:
				if ev.Token != "" {
					turnHadText = true
				}
				if err := o.sender.Send(NewTextMessage(ev.Token, ev.Last)); err != nil {
					o.log.Warn("send token failed", zap.Error(err))
				}
				if ev.Last {
					if ev.Reply != "" {
						o.postTranscript("assistant", ev.Reply)
					}
					turnHadText = false
				}
			case agent.EventDigits:
				if err := o.sender.Send(NewDigitsMessage(ev.Digits)); err != nil {
					o.log.Warn("send digits failed", zap.Error(err))
				}
				o.postTranscript("assistant", "[sent digits "+ev.Digits+"]")
			case agent.EventEnd:
				o.endCall(ev.Handoff)
				return
			case agent.EventError:
				o.log.Error("engine turn failed", zap.String("reason", ev.Message))
				if !turnHadText {
					if err := o.sender.Send(NewTextMessage(spokenApology, true)); err != nil {
						o.log.Warn("send apology failed", zap.Error(err))
					}
				}
				turnHadText = false
			}
		}
	}
}

func (o *Orchestrator) onSilenceReminder(attempt int, message string) {
	o.log.Info("silence reminder", zap.Int("attempt", attempt))
	if err := o.sender.Send(NewTextMessage(message, true)); err != nil {
		o.log.Warn("send reminder failed", zap.Error(err))
	}
	o.engine.AppendSystemContext("You asked the caller: " + message)
	o.postTranscript("assistant", message)
}

func (o *Orchestrator) onSilenceTimeout(message string) {
	if err := o.sender.Send(NewTextMessage(message, true)); err != nil {
		o.log.Warn("send timeout notice failed", zap.Error(err))
	}
	o.postTranscript("assistant", message)
	o.endCall(&tools.HandoffData{
		ReasonCode: silence.ReasonUnresponsive,
		Reason:     "Caller stopped responding",
	})
}

func (o *Orchestrator) endCall(handoff *tools.HandoffData) {
	payload := "{}"
	reason := "completed"
	if handoff != nil {
		if b, err := json.Marshal(handoff); err == nil {
			payload = string(b)
		}
		reason = handoff.ReasonCode
	}
	if err := o.sender.Send(NewEndMessage(payload)); err != nil {
		o.log.Warn("send end frame failed", zap.Error(err))
	}
	o.Cleanup(reason)
}

func (o *Orchestrator) failSetup(description string) {
	o.log.Error("relay setup failed", zap.String("reason", description))
	if err := o.sender.Send(map[string]string{"type": TypeError, "description": description}); err != nil {
		o.log.Warn("send error frame failed", zap.Error(err))
	}
	o.Cleanup("setup-failed")
}

func (o *Orchestrator) postTranscript(author, body string) {
	o.mu.Lock()
	call := o.call
	o.mu.Unlock()
	if call == nil || call.TicketChannelID == "" {
		return
	}
	if err := o.ticketing.PostTranscriptLine(o.ctx, call.TicketChannelID, author, body); err != nil {
		o.log.Warn("transcript line not mirrored",
			zap.String("author", author), zap.Error(err))
	}
}

// Cleanup releases everything the call held. Idempotent; every exit path
// funnels through here and the ticket is closed at most once.
func (o *Orchestrator) Cleanup(reason string) {
	o.cleanupOnce.Do(func() {
		o.mu.Lock()
		o.state = StateEnded
		call := o.call
		o.mu.Unlock()

		o.monitor.Stop()
		history := o.engine.History()
		o.engine.Close()
		o.cancel()

		if call == nil {
			o.log.Info("relay session closed before pairing", zap.String("reason", reason))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if call.TicketID != "" {
			if err := o.ticketing.CloseTicket(ctx, call.TicketID, reason); err != nil {
				o.log.Warn("close ticket failed",
					zap.String("ticketId", call.TicketID), zap.Error(err))
			}
		}
		o.archiveTranscript(ctx, call, history)
		o.store.Delete(call.CorrelationToken)
		o.log.Info("call cleaned up",
			zap.String("correlationToken", call.CorrelationToken),
			zap.String("callSid", call.CallSID),
			zap.String("reason", reason))
	})
}

func (o *Orchestrator) archiveTranscript(ctx context.Context, call *session.Call, history []llm.Message) {
	if o.archive == nil || len(history) == 0 {
		return
	}
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		o.log.Warn("encode transcript failed", zap.Error(err))
		return
	}
	name := call.CallSID
	if name == "" {
		name = call.CorrelationToken
	}
	path := "transcripts/" + name + ".json"
	if err := o.archive.Upload(ctx, path, data); err != nil {
		o.log.Warn("archive transcript failed", zap.String("path", path), zap.Error(err))
		return
	}
	o.log.Info("transcript archived", zap.String("path", path))
}
