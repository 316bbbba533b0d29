// Package conversation keeps the per-user dialogue state of the bot: the
// active session and the step of the multi-message flow the user is in.
package conversation

import (
	"encoding/json"
	"fmt"
	"time"
)

type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseAwaitingSessionID   Phase = "awaiting_session_id"
	PhaseAwaitingAccessKey   Phase = "awaiting_access_key"
	PhaseAwaitingPrefix      Phase = "awaiting_prefix"
	PhaseAwaitingDescription Phase = "awaiting_description"
	PhaseBatchCollecting     Phase = "batch_collecting"
	PhaseBatchDescription    Phase = "batch_description"
)

// State is one step of a flow. Each step carries only the data it needs.
type State interface {
	Phase() Phase
	isState()
}

type Idle struct{}

type AwaitingSessionID struct{}

type AwaitingAccessKey struct {
	SessionID string `json:"session_id"`
}

type AwaitingPrefix struct{}

type AwaitingDescription struct {
	Prefix string `json:"prefix"`
}

// BatchItem is a file queued for a batch upload.
type BatchItem struct {
	FileRef      string `json:"file_ref"`
	OriginalName string `json:"original_name"`
	IsDocument   bool   `json:"is_document,omitempty"`
}

type BatchCollecting struct {
	Items []BatchItem `json:"items"`
}

type BatchDescription struct {
	Items []BatchItem `json:"items"`
}

func (Idle) Phase() Phase                { return PhaseIdle }
func (AwaitingSessionID) Phase() Phase   { return PhaseAwaitingSessionID }
func (AwaitingAccessKey) Phase() Phase   { return PhaseAwaitingAccessKey }
func (AwaitingPrefix) Phase() Phase      { return PhaseAwaitingPrefix }
func (AwaitingDescription) Phase() Phase { return PhaseAwaitingDescription }
func (BatchCollecting) Phase() Phase     { return PhaseBatchCollecting }
func (BatchDescription) Phase() Phase    { return PhaseBatchDescription }

func (Idle) isState()                {}
func (AwaitingSessionID) isState()   {}
func (AwaitingAccessKey) isState()   {}
func (AwaitingPrefix) isState()      {}
func (AwaitingDescription) isState() {}
func (BatchCollecting) isState()     {}
func (BatchDescription) isState()    {}

// ActiveSession is the session a user has joined.
type ActiveSession struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
}

// Conversation is everything remembered about one user between messages.
type Conversation struct {
	UserID       int64
	Active       *ActiveSession
	State        State
	LastActivity time.Time
}

func NewConversation(userID int64) *Conversation {
	return &Conversation{UserID: userID, State: Idle{}}
}

// Reset drops the flow step but keeps the active session.
func (c *Conversation) Reset() {
	c.State = Idle{}
}

type envelope struct {
	UserID       int64           `json:"user_id"`
	Active       *ActiveSession  `json:"active,omitempty"`
	Phase        Phase           `json:"phase"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	LastActivity time.Time       `json:"last_activity"`
}

// Marshal encodes c with its state tagged by phase.
func Marshal(c *Conversation) ([]byte, error) {
	state := c.State
	if state == nil {
		state = Idle{}
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return json.Marshal(envelope{
		UserID:       c.UserID,
		Active:       c.Active,
		Phase:        state.Phase(),
		Payload:      payload,
		LastActivity: c.LastActivity,
	})
}

func Unmarshal(data []byte) (*Conversation, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	state, err := decodeState(env.Phase, env.Payload)
	if err != nil {
		return nil, err
	}
	return &Conversation{
		UserID:       env.UserID,
		Active:       env.Active,
		State:        state,
		LastActivity: env.LastActivity,
	}, nil
}

func decodeState(phase Phase, payload json.RawMessage) (State, error) {
	switch phase {
	case PhaseIdle, "":
		return Idle{}, nil
	case PhaseAwaitingSessionID:
		return AwaitingSessionID{}, nil
	case PhaseAwaitingPrefix:
		return AwaitingPrefix{}, nil
	case PhaseAwaitingAccessKey:
		return decodeInto[AwaitingAccessKey](payload)
	case PhaseAwaitingDescription:
		return decodeInto[AwaitingDescription](payload)
	case PhaseBatchCollecting:
		return decodeInto[BatchCollecting](payload)
	case PhaseBatchDescription:
		return decodeInto[BatchDescription](payload)
	default:
		return nil, fmt.Errorf("unknown conversation phase %q", phase)
	}
}

func decodeInto[T State](payload json.RawMessage) (State, error) {
	var s T
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("decode state payload: %w", err)
		}
	}
	return s, nil
}
