package dialer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/deshartman/conversation-relay-flex-dialler/internal/flex"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/session"
)

// Ticketing is the slice of the agent-desk bridge the dialer needs: open a
// ticket before dialling, release it if the dial never happens.
type Ticketing interface {
	CreateTicket(ctx context.Context, attrs flex.TicketAttributes) (string, string, error)
	CloseTicket(ctx context.Context, ticketID, reason string) error
}

// voiceAPI is the one twilio-go call the dialer makes, extracted so tests
// can dial nothing.
type voiceAPI interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
}

// Config carries the dial-side settings.
type Config struct {
	FromNumber      string
	RelayURL        string
	WelcomeGreeting string
}

// OutboundRequest is the API payload that starts a notification call.
type OutboundRequest struct {
	DestinationNumber string `json:"destinationNumber"`
	CustomerReference string `json:"customerReference,omitempty"`
	CustomerContext   string `json:"customerContext,omitempty"`
}

// Service places outbound notification calls: register the session, open
// its ticket, then dial with TwiML that routes the answered call into the
// relay socket carrying the correlation token.
type Service struct {
	cfg       Config
	voice     voiceAPI
	store     session.Store
	ticketing Ticketing
	log       *zap.Logger
}

func New(cfg Config, accountSID, authToken string, store session.Store, ticketing Ticketing, log *zap.Logger) *Service {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Service{cfg: cfg, voice: client.Api, store: store, ticketing: ticketing, log: log}
}

// NewWithVoice injects the voice API directly.
func NewWithVoice(cfg Config, voice voiceAPI, store session.Store, ticketing Ticketing, log *zap.Logger) *Service {
	return &Service{cfg: cfg, voice: voice, store: store, ticketing: ticketing, log: log}
}

// StartCall validates the request, registers the session and ticket, and
// places the call. A ticket failure aborts the dial.
func (s *Service) StartCall(ctx context.Context, req OutboundRequest) (*session.Call, error) {
	if err := validateNumber(req.DestinationNumber); err != nil {
		return nil, err
	}
	if s.cfg.FromNumber == "" {
		return nil, fmt.Errorf("no caller number configured")
	}
	if s.cfg.RelayURL == "" {
		return nil, fmt.Errorf("no relay URL configured")
	}

	token := uuid.NewString()
	call := &session.Call{
		CorrelationToken:  token,
		DestinationNumber: req.DestinationNumber,
		CustomerReference: req.CustomerReference,
		CustomerContext:   req.CustomerContext,
		CreatedAt:         time.Now(),
	}
	s.store.Put(call)

	ticketID, channelID, err := s.ticketing.CreateTicket(ctx, flex.TicketAttributes{
		CorrelationToken:  token,
		DestinationNumber: req.DestinationNumber,
		CustomerReference: req.CustomerReference,
	})
	if err != nil {
		s.store.Delete(token)
		return nil, fmt.Errorf("open ticket: %w", err)
	}
	s.store.Update(token, func(c *session.Call) {
		c.TicketID = ticketID
		c.TicketChannelID = channelID
	})
	call.TicketID = ticketID
	call.TicketChannelID = channelID

	params := &twilioApi.CreateCallParams{}
	params.SetTo(req.DestinationNumber)
	params.SetFrom(s.cfg.FromNumber)
	params.SetTwiml(relayTwiML(s.cfg.RelayURL, s.cfg.WelcomeGreeting, token))

	resp, err := s.voice.CreateCall(params)
	if err != nil {
		if cerr := s.ticketing.CloseTicket(ctx, ticketID, "dial-failed"); cerr != nil {
			s.log.Warn("release ticket after dial failure", zap.Error(cerr))
		}
		s.store.Delete(token)
		return nil, fmt.Errorf("place call: %w", err)
	}
	if resp.Sid != nil {
		s.store.Update(token, func(c *session.Call) { c.CallSID = *resp.Sid })
		call.CallSID = *resp.Sid
	}

	s.log.Info("outbound call placed",
		zap.String("correlationToken", token),
		zap.String("to", req.DestinationNumber),
		zap.String("callSid", call.CallSID),
		zap.String("ticketId", ticketID))
	return call, nil
}

func validateNumber(number string) error {
	if number == "" {
		return fmt.Errorf("destinationNumber is required")
	}
	if !strings.HasPrefix(number, "+") {
		return fmt.Errorf("destinationNumber must be E.164, got %q", number)
	}
	for _, r := range number[1:] {
		if r < '0' || r > '9' {
			return fmt.Errorf("destinationNumber must be E.164, got %q", number)
		}
	}
	if len(number) < 9 || len(number) > 16 {
		return fmt.Errorf("destinationNumber length out of range: %q", number)
	}
	return nil
}

func relayTwiML(relayURL, greeting, token string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><Response><Connect><ConversationRelay url="`)
	b.WriteString(xmlEscape(relayURL))
	b.WriteString(`"`)
	if greeting != "" {
		b.WriteString(` welcomeGreeting="`)
		b.WriteString(xmlEscape(greeting))
		b.WriteString(`"`)
	}
	b.WriteString(`><Parameter name="correlationToken" value="`)
	b.WriteString(xmlEscape(token))
	b.WriteString(`"/></ConversationRelay></Connect></Response>`)
	return b.String()
}

func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}
