// Package convid defines the conversation and agent identifiers shared
// across the orchestration core.
package convid

import (
	"encoding/json"
	"sync/atomic"

	"github.com/google/uuid"
)

// ConversationID is a globally unique, hashable, serialisable session
// identifier. The zero value is never valid; use New to mint one.
type ConversationID struct {
	id uuid.UUID
}

// New mints a fresh ConversationID.
func New() ConversationID {
	return ConversationID{id: uuid.New()}
}

// FromString parses a previously-serialised ConversationID.
func FromString(s string) (ConversationID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ConversationID{}, err
	}
	return ConversationID{id: id}, nil
}

// String returns the canonical UUID string form.
func (c ConversationID) String() string {
	return c.id.String()
}

// IsZero reports whether this is the unset ConversationID.
func (c ConversationID) IsZero() bool {
	return c.id == uuid.Nil
}

// MarshalJSON implements json.Marshaler.
func (c ConversationID) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.id.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ConversationID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	c.id = id
	return nil
}

// AgentID identifies an agent within a process. 0 is the distinguished
// root agent; subagents receive strictly increasing ids starting at 1.
type AgentID uint64

// RootAgentID is the distinguished id of the root agent.
const RootAgentID AgentID = 0

// IsRoot reports whether this id names the root agent.
func (a AgentID) IsRoot() bool {
	return a == RootAgentID
}

// Counter hands out strictly monotonically increasing AgentIDs starting
// at 1, safe for concurrent use. Create one with NewCounter; a zero
// Counter's first Next returns 0, the root agent id.
type Counter struct {
	next atomic.Uint64
}

// NewCounter returns a Counter whose first Next() call returns 1.
func NewCounter() *Counter {
	c := &Counter{}
	c.next.Store(1)
	return c
}

// Next allocates and returns the next AgentID.
func (c *Counter) Next() AgentID {
	return AgentID(c.next.Add(1) - 1)
}
