package flex

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twilio/twilio-go"
	conversations "github.com/twilio/twilio-go/rest/conversations/v1"
	taskrouter "github.com/twilio/twilio-go/rest/taskrouter/v1"
	"go.uber.org/zap"
)

// Config identifies the contact-center workspace tickets are routed into.
type Config struct {
	AccountSID   string
	AuthToken    string
	WorkspaceSID string
	WorkflowSID  string
}

func (c Config) enabled() bool {
	return c.AccountSID != "" && c.WorkspaceSID != "" && c.WorkflowSID != ""
}

// TicketAttributes is the routing payload attached to each task. The
// correlation token lets the reservation webhook find its session again.
type TicketAttributes struct {
	CorrelationToken  string `json:"correlationToken"`
	DestinationNumber string `json:"destinationNumber,omitempty"`
	CustomerReference string `json:"customerReference,omitempty"`
	ConversationSID   string `json:"conversationSid,omitempty"`
	Channel           string `json:"channel"`
}

// Client bridges calls to the agent desk: one conversation per call for the
// live transcript, one routing task per call for agent assignment.
type Client struct {
	rest *twilio.RestClient
	cfg  Config
	log  *zap.Logger

	// activity friendly-name -> SID, loaded once at startup.
	activities map[string]string
}

func New(cfg Config, log *zap.Logger) *Client {
	c := &Client{cfg: cfg, log: log, activities: map[string]string{}}
	if !cfg.enabled() {
		log.Warn("ticketing not configured, tickets disabled")
		return c
	}
	c.rest = twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	c.loadActivities()
	return c
}

// Enabled reports whether ticket operations will reach the workspace.
func (c *Client) Enabled() bool { return c.rest != nil }

func (c *Client) loadActivities() {
	items, err := c.rest.TaskrouterV1.ListActivity(c.cfg.WorkspaceSID, &taskrouter.ListActivityParams{})
	if err != nil {
		c.log.Warn("list workspace activities failed", zap.Error(err))
		return
	}
	for _, a := range items {
		if a.FriendlyName != nil && a.Sid != nil {
			c.activities[*a.FriendlyName] = *a.Sid
		}
	}
	c.log.Info("workspace activities cached", zap.Int("count", len(c.activities)))
}

// CreateTicket opens a transcript conversation and a routing task for one
// outbound call. Returns the task SID and the conversation SID.
func (c *Client) CreateTicket(ctx context.Context, attrs TicketAttributes) (string, string, error) {
	if c.rest == nil {
		c.log.Debug("ticketing disabled, call proceeds without a ticket",
			zap.String("correlationToken", attrs.CorrelationToken))
		return "", "", nil
	}

	convParams := &conversations.CreateConversationParams{}
	convParams.SetFriendlyName("call " + attrs.CorrelationToken)
	conv, err := c.rest.ConversationsV1.CreateConversation(convParams)
	if err != nil {
		return "", "", fmt.Errorf("create transcript conversation: %w", err)
	}
	if conv.Sid == nil {
		return "", "", fmt.Errorf("create transcript conversation: no sid returned")
	}
	attrs.ConversationSID = *conv.Sid
	if attrs.Channel == "" {
		attrs.Channel = "voice"
	}

	payload, err := json.Marshal(attrs)
	if err != nil {
		return "", "", fmt.Errorf("encode ticket attributes: %w", err)
	}
	taskParams := &taskrouter.CreateTaskParams{}
	taskParams.SetWorkflowSid(c.cfg.WorkflowSID)
	taskParams.SetAttributes(string(payload))
	task, err := c.rest.TaskrouterV1.CreateTask(c.cfg.WorkspaceSID, taskParams)
	if err != nil {
		return "", "", fmt.Errorf("create routing task: %w", err)
	}
	if task.Sid == nil {
		return "", "", fmt.Errorf("create routing task: no sid returned")
	}

	c.log.Info("ticket created",
		zap.String("taskSid", *task.Sid),
		zap.String("conversationSid", *conv.Sid),
		zap.String("correlationToken", attrs.CorrelationToken))
	return *task.Sid, *conv.Sid, nil
}

// AcceptReservation marks an agent reservation accepted so the task leaves
// the queue while the automated side keeps handling the call.
func (c *Client) AcceptReservation(ctx context.Context, taskSID, reservationSID string) error {
	if c.rest == nil {
		return fmt.Errorf("ticketing not configured")
	}
	params := &taskrouter.UpdateTaskReservationParams{}
	params.SetReservationStatus("accepted")
	_, err := c.rest.TaskrouterV1.UpdateTaskReservation(c.cfg.WorkspaceSID, taskSID, reservationSID, params)
	if err != nil {
		return fmt.Errorf("accept reservation %s: %w", reservationSID, err)
	}
	return nil
}

// PostTranscriptLine appends one line to the ticket's conversation.
func (c *Client) PostTranscriptLine(ctx context.Context, channelID, author, body string) error {
	if c.rest == nil {
		return nil
	}
	params := &conversations.CreateConversationMessageParams{}
	params.SetAuthor(author)
	params.SetBody(body)
	_, err := c.rest.ConversationsV1.CreateConversationMessage(channelID, params)
	if err != nil {
		return fmt.Errorf("post transcript line: %w", err)
	}
	return nil
}

// CloseTicket completes the routing task with the call-end reason.
func (c *Client) CloseTicket(ctx context.Context, ticketID, reason string) error {
	if c.rest == nil {
		return nil
	}
	params := &taskrouter.UpdateTaskParams{}
	params.SetAssignmentStatus("completed")
	params.SetReason(reason)
	_, err := c.rest.TaskrouterV1.UpdateTask(c.cfg.WorkspaceSID, ticketID, params)
	if err != nil {
		return fmt.Errorf("complete task %s: %w", ticketID, err)
	}
	return nil
}

// ParseTaskAttributes decodes the attributes JSON a reservation webhook
// carries back to us.
func ParseTaskAttributes(raw string) (TicketAttributes, error) {
	var attrs TicketAttributes
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		return TicketAttributes{}, fmt.Errorf("decode task attributes: %w", err)
	}
	return attrs, nil
}
