package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/scamtrap-ai/scamtrap/pkg/cryptobox"
	"github.com/scamtrap-ai/scamtrap/pkg/evidence"
)

// ErrSessionBusy is returned when a turn cannot acquire its session's
// exclusion scope within the configured wait. Retryable by the caller.
var ErrSessionBusy = errors.New("session busy: concurrent turn in progress")

// DefaultActivationThreshold latches the honeypot when the oracle score
// reaches it, independent of the oracle decision.
const DefaultActivationThreshold = 0.80

// DefaultLockWait bounds how long a turn waits for its session lock.
const DefaultLockWait = 5 * time.Second

// Store owns every live session. Distinct session ids proceed fully in
// parallel; turns on the same id serialize on a per-session lock held
// across the whole read-modify-write (and persist) sequence.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry

	codec     *cryptobox.Codec
	persister Persister
	threshold float64
	lockWait  time.Duration
}

// entry pairs a session with its exclusion scope. The lock is a 1-slot
// channel so acquisition can race a timeout and context cancellation.
type entry struct {
	lock chan struct{}
	s    *Session
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPersister attaches a durable backend. Without one the store runs as a
// pure in-memory map, which is a supported mode, not an error.
func WithPersister(p Persister) StoreOption {
	return func(st *Store) { st.persister = p }
}

// WithCodec sets the codec sealing PII fields at the persistence boundary.
func WithCodec(c *cryptobox.Codec) StoreOption {
	return func(st *Store) { st.codec = c }
}

// WithActivationThreshold overrides the score threshold for the latch.
func WithActivationThreshold(v float64) StoreOption {
	return func(st *Store) { st.threshold = v }
}

// WithLockWait bounds the per-session lock acquisition wait.
func WithLockWait(d time.Duration) StoreOption {
	return func(st *Store) { st.lockWait = d }
}

// NewStore creates a session store.
func NewStore(opts ...StoreOption) *Store {
	st := &Store{
		entries:   make(map[string]*entry),
		threshold: DefaultActivationThreshold,
		lockWait:  DefaultLockWait,
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// GetOrCreate returns a snapshot of the session for id, creating it with
// Monitoring defaults on first reference. When a durable backend is
// configured, an unknown id is first looked up there so sessions survive
// restarts.
func (st *Store) GetOrCreate(ctx context.Context, id string) (Session, error) {
	e, err := st.entryFor(ctx, id)
	if err != nil {
		return Session{}, err
	}

	if err := st.acquire(ctx, e); err != nil {
		return Session{}, err
	}
	defer st.release(e)

	return e.s.clone(), nil
}

// RecordTurn applies one inbound turn atomically: merges evidence, applies
// the activation rule, records the latest oracle verdict, appends the
// transcript entries, bumps lastInteraction, and persists when a backend is
// configured. Returns the post-turn snapshot and whether this exact turn
// closed the latch.
func (st *Store) RecordTurn(ctx context.Context, id string, turn Turn) (Session, bool, error) {
	e, err := st.entryFor(ctx, id)
	if err != nil {
		return Session{}, false, err
	}

	if err := st.acquire(ctx, e); err != nil {
		return Session{}, false, err
	}
	defer st.release(e)

	s := e.s
	incoming := turn.Evidence
	if incoming == nil {
		incoming = evidence.NewSet()
	}
	s.Evidence = evidence.Merge(s.Evidence, incoming)

	// One-way latch. Once Honeypot, the condition is never re-evaluated:
	// a turn that would also satisfy it is a no-op with no side effects.
	justActivated := false
	if s.State != StateHoneypot && (turn.Decision == DecisionActivate || turn.Score >= st.threshold) {
		s.State = StateHoneypot
		justActivated = true
	}

	// Score and reason track the most recent verdict; they are not latched.
	s.Score = turn.Score
	s.DecisionReason = turn.Reason

	now := time.Now().UTC()
	s.Transcript = append(s.Transcript, Message{Sender: SenderScammer, Text: turn.IncomingText, Timestamp: now})
	if turn.Reply != "" {
		s.Transcript = append(s.Transcript, Message{Sender: SenderAgent, Text: turn.Reply, Timestamp: now})
	}
	s.LastInteraction = now

	if err := st.persistLocked(ctx, s); err != nil {
		// The in-memory transition is complete; durable write failure is
		// logged and the turn still succeeds (graceful degradation).
		log.Printf("[STORE] persist failed for session %s: %v", id, err)
	}

	return s.clone(), justActivated, nil
}

// Persist writes the session's current state to the durable backend, if one
// is configured. No-op otherwise.
func (st *Store) Persist(ctx context.Context, id string) error {
	e, err := st.entryFor(ctx, id)
	if err != nil {
		return err
	}

	if err := st.acquire(ctx, e); err != nil {
		return err
	}
	defer st.release(e)

	return st.persistLocked(ctx, e.s)
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.entries)
}

// entryFor finds or creates the entry for id. Creation checks the durable
// backend once; a missing record starts a fresh Monitoring session.
func (st *Store) entryFor(ctx context.Context, id string) (*entry, error) {
	if id == "" {
		return nil, fmt.Errorf("session id is required")
	}

	st.mu.Lock()
	if e, ok := st.entries[id]; ok {
		st.mu.Unlock()
		return e, nil
	}
	st.mu.Unlock()

	// Load outside the map lock so a slow backend cannot stall unrelated
	// sessions.
	loaded := st.loadFromPersister(ctx, id)

	st.mu.Lock()
	defer st.mu.Unlock()
	if e, ok := st.entries[id]; ok {
		// Lost the creation race; the winner's state is authoritative.
		return e, nil
	}

	s := loaded
	if s == nil {
		now := time.Now().UTC()
		s = &Session{
			ID:              id,
			State:           StateMonitoring,
			Evidence:        evidence.NewSet(),
			Transcript:      []Message{},
			CreatedAt:       now,
			LastInteraction: now,
		}
	}
	e := &entry{lock: make(chan struct{}, 1), s: s}
	st.entries[id] = e
	return e, nil
}

func (st *Store) loadFromPersister(ctx context.Context, id string) *Session {
	if st.persister == nil {
		return nil
	}
	rec, err := st.persister.Load(ctx, id)
	if err != nil {
		log.Printf("[STORE] load failed for session %s: %v", id, err)
		return nil
	}
	if rec == nil {
		return nil
	}
	return st.open(rec)
}

func (st *Store) persistLocked(ctx context.Context, s *Session) error {
	if st.persister == nil {
		return nil
	}
	return st.persister.Save(ctx, st.seal(s))
}

// acquire takes the session's exclusion scope, giving up after the
// configured wait or when ctx is done.
func (st *Store) acquire(ctx context.Context, e *entry) error {
	timer := time.NewTimer(st.lockWait)
	defer timer.Stop()

	select {
	case e.lock <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrSessionBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (st *Store) release(e *entry) {
	select {
	case <-e.lock:
	default:
		// Release without acquire; nothing to undo.
	}
}
