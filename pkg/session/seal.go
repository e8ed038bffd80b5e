package session

import (
	"log"
	"time"

	"github.com/scamtrap-ai/scamtrap/pkg/cryptobox"
	"github.com/scamtrap-ai/scamtrap/pkg/evidence"
)

// Record is the durable form of a Session: same shape, PII fields sealed.
// Evidence raw/normalized values and transcript text are envelopes on disk;
// structured fields (type, confidence, timestamps) stay plain so backends
// can index them.
type Record struct {
	SessionID       string       `json:"session_id"`
	State           State        `json:"state"`
	Score           float64      `json:"score"`
	DecisionReason  string       `json:"decision_reason"`
	Evidence        evidence.Set `json:"evidence"`
	Transcript      []Message    `json:"transcript"`
	CreatedAt       time.Time    `json:"created_at"`
	LastInteraction time.Time    `json:"last_interaction"`
}

// seal copies the session into its durable form, encrypting PII fields
// immediately before the write. Without a codec the copy is stored plain.
func (st *Store) seal(s *Session) *Record {
	rec := &Record{
		SessionID:       s.ID,
		State:           s.State,
		Score:           s.Score,
		DecisionReason:  s.DecisionReason,
		Evidence:        s.Evidence.Clone(),
		Transcript:      make([]Message, len(s.Transcript)),
		CreatedAt:       s.CreatedAt,
		LastInteraction: s.LastInteraction,
	}
	copy(rec.Transcript, s.Transcript)

	if st.codec == nil {
		return rec
	}

	for t, items := range rec.Evidence {
		for i := range items {
			items[i].Raw = st.codec.Encrypt(items[i].Raw)
			items[i].Normalized = st.codec.Encrypt(items[i].Normalized)
			items[i].Snippet = st.codec.Encrypt(items[i].Snippet)
		}
		rec.Evidence[t] = items
	}
	for i := range rec.Transcript {
		rec.Transcript[i].Text = st.codec.Encrypt(rec.Transcript[i].Text)
	}
	return rec
}

// open reverses seal symmetrically after a read, before the session is
// handed to any other component. Fields that fail to decrypt are kept as
// stored (fail closed) and logged once per field.
func (st *Store) open(rec *Record) *Session {
	s := &Session{
		ID:              rec.SessionID,
		State:           rec.State,
		Score:           rec.Score,
		DecisionReason:  rec.DecisionReason,
		Evidence:        rec.Evidence,
		Transcript:      rec.Transcript,
		CreatedAt:       rec.CreatedAt,
		LastInteraction: rec.LastInteraction,
	}
	if s.Evidence == nil {
		s.Evidence = evidence.NewSet()
	}
	if s.Transcript == nil {
		s.Transcript = []Message{}
	}
	if s.State == "" {
		s.State = StateMonitoring
	}

	if st.codec == nil {
		return s
	}

	for t, items := range s.Evidence {
		for i := range items {
			items[i].Raw = st.openField(s.ID, items[i].Raw)
			items[i].Normalized = st.openField(s.ID, items[i].Normalized)
			items[i].Snippet = st.openField(s.ID, items[i].Snippet)
		}
		s.Evidence[t] = items
	}
	for i := range s.Transcript {
		s.Transcript[i].Text = st.openField(s.ID, s.Transcript[i].Text)
	}
	return s
}

func (st *Store) openField(id, value string) string {
	out, status := st.codec.Decrypt(value)
	if status == cryptobox.StatusFailedClosed {
		log.Printf("[STORE] decrypt failed closed for session %s; returning stored value", id)
	}
	return out
}
