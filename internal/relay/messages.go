package relay

// Wire types for the voice-relay WebSocket. Inbound messages share a single
// envelope discriminated by "type"; outbound messages are built through the
// constructors below so every frame carries a well-formed shape.

const (
	TypeSetup      = "setup"
	TypePrompt     = "prompt"
	TypeInterrupt  = "interrupt"
	TypeDTMF       = "dtmf"
	TypeInfo       = "info"
	TypeText       = "text"
	TypeSendDigits = "sendDigits"
	TypeEnd        = "end"
	TypeError      = "error"
)

// InboundMessage is the decoded union of every frame the relay can send us.
// Fields not present for a given type stay zero.
type InboundMessage struct {
	Type             string            `json:"type"`
	SessionID        string            `json:"sessionId,omitempty"`
	CallSID          string            `json:"callSid,omitempty"`
	From             string            `json:"from,omitempty"`
	To               string            `json:"to,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`

	VoicePrompt string `json:"voicePrompt,omitempty"`
	Last        bool   `json:"last,omitempty"`

	UtteranceUntilInterrupt string `json:"utteranceUntilInterrupt,omitempty"`
	Digit                   string `json:"digit,omitempty"`

	Description string `json:"description,omitempty"`
}

// TextMessage carries one reply token to the speech layer. Last marks the
// closing token of a turn so the relay can flush synthesis.
type TextMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
	Last  bool   `json:"last"`
}

func NewTextMessage(token string, last bool) TextMessage {
	return TextMessage{Type: TypeText, Token: token, Last: last}
}

// DigitsMessage plays touch-tones into the call.
type DigitsMessage struct {
	Type   string `json:"type"`
	Digits string `json:"digits"`
}

func NewDigitsMessage(digits string) DigitsMessage {
	return DigitsMessage{Type: TypeSendDigits, Digits: digits}
}

// EndMessage terminates the call. HandoffData is a JSON document encoded as
// a string, per the relay contract.
type EndMessage struct {
	Type        string `json:"type"`
	HandoffData string `json:"handoffData"`
}

func NewEndMessage(handoffData string) EndMessage {
	return EndMessage{Type: TypeEnd, HandoffData: handoffData}
}
