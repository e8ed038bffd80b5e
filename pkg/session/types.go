// Package session owns conversation state for the honeypot: cumulative
// evidence, transcript, the Monitoring/Honeypot latch, and optional durable
// persistence with field-level encryption at the storage boundary.
package session

import (
	"time"

	"github.com/scamtrap-ai/scamtrap/pkg/evidence"
)

// State is the lifecycle mode of a session.
type State string

const (
	// StateMonitoring is the initial passive mode. The agent never replies.
	StateMonitoring State = "monitoring"
	// StateHoneypot is terminal for the session's lifetime. Once latched,
	// the agent engages the scammer and no turn can revert the state.
	StateHoneypot State = "honeypot"
)

// Sender identifies who produced a transcript message.
type Sender string

const (
	SenderScammer Sender = "scammer"
	SenderAgent   Sender = "agent"
)

// Message is one transcript entry. Immutable once appended.
type Message struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the cumulative state for one caller-supplied session id. The
// store is the sole owner of the live value; everything handed out is a
// deep copy, so callers can never mutate state outside the store's
// per-session exclusion scope.
type Session struct {
	ID              string       `json:"session_id"`
	State           State        `json:"state"`
	Score           float64      `json:"score"`
	DecisionReason  string       `json:"decision_reason"`
	Evidence        evidence.Set `json:"evidence"`
	Transcript      []Message    `json:"transcript"`
	CreatedAt       time.Time    `json:"created_at"`
	LastInteraction time.Time    `json:"last_interaction"`
}

// Engaged reports whether the honeypot latch has closed.
func (s *Session) Engaged() bool {
	return s.State == StateHoneypot
}

// clone returns a deep copy safe to hand outside the store.
func (s *Session) clone() Session {
	cp := *s
	cp.Evidence = s.Evidence.Clone()
	cp.Transcript = make([]Message, len(s.Transcript))
	copy(cp.Transcript, s.Transcript)
	return cp
}

// Turn carries everything one inbound turn contributes to a session. The
// oracle verdict fields are recorded verbatim; the activation rule is
// applied by the store under the session lock.
type Turn struct {
	IncomingText string
	Evidence     evidence.Set
	Score        float64
	Decision     string
	Reason       string
	Reply        string // empty = no reply produced this turn
}

// DecisionActivate is the oracle decision that forces the latch regardless
// of score.
const DecisionActivate = "activate"
