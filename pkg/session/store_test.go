package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scamtrap-ai/scamtrap/pkg/evidence"
)

func TestGetOrCreateDefaults(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	s, err := st.GetOrCreate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if s.State != StateMonitoring {
		t.Errorf("new session state = %s, want monitoring", s.State)
	}
	if s.Score != 0 || s.DecisionReason != "" {
		t.Errorf("new session metrics not zeroed: score=%v reason=%q", s.Score, s.DecisionReason)
	}
	if len(s.Transcript) != 0 {
		t.Errorf("new session transcript not empty: %d entries", len(s.Transcript))
	}
	if s.Evidence.Count() != 0 {
		t.Errorf("new session evidence not empty")
	}

	again, err := st.GetOrCreate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if again.CreatedAt != s.CreatedAt {
		t.Error("second GetOrCreate created a new session")
	}
	if st.Len() != 1 {
		t.Errorf("store has %d sessions, want 1", st.Len())
	}
}

func TestGetOrCreateEmptyID(t *testing.T) {
	st := NewStore()
	if _, err := st.GetOrCreate(context.Background(), ""); err == nil {
		t.Error("expected error for empty session id")
	}
}

func TestRecordTurnLatch(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	// Below threshold, no activate decision: stays monitoring.
	s, activated, err := st.RecordTurn(ctx, "s", Turn{
		IncomingText: "Hi, is this Amit?",
		Evidence:     evidence.NewSet(),
		Score:        0.1,
		Decision:     "no_action",
		Reason:       "benign greeting",
	})
	if err != nil {
		t.Fatal(err)
	}
	if activated || s.State != StateMonitoring {
		t.Fatalf("turn 1: activated=%v state=%s, want monitoring", activated, s.State)
	}

	// Activation-qualifying turn closes the latch exactly now.
	s, activated, err = st.RecordTurn(ctx, "s", Turn{
		IncomingText: "Your account is blocked, pay now",
		Evidence:     evidence.NewSet(),
		Score:        0.85,
		Decision:     DecisionActivate,
		Reason:       "payment coercion",
		Reply:        "what do you mean?",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !activated || s.State != StateHoneypot {
		t.Fatalf("turn 2: activated=%v state=%s, want honeypot + justActivated", activated, s.State)
	}

	// Latched: later low-score turns never revert, never re-activate.
	for _, score := range []float64{0.0, 0.2, 0.95} {
		s, activated, err = st.RecordTurn(ctx, "s", Turn{
			IncomingText: "anything",
			Evidence:     evidence.NewSet(),
			Score:        score,
			Decision:     "no_action",
			Reason:       "follow-up",
			Reply:        "ok checking",
		})
		if err != nil {
			t.Fatal(err)
		}
		if activated {
			t.Errorf("score %v: latch re-fired", score)
		}
		if s.State != StateHoneypot {
			t.Errorf("score %v: state reverted to %s", score, s.State)
		}
	}

	// Metrics are not latched: they track the most recent verdict.
	if s.Score != 0.95 || s.DecisionReason != "follow-up" {
		t.Errorf("metrics not updated: score=%v reason=%q", s.Score, s.DecisionReason)
	}
}

func TestRecordTurnScoreThresholdAlone(t *testing.T) {
	st := NewStore()

	_, activated, err := st.RecordTurn(context.Background(), "s", Turn{
		IncomingText: "pay immediately",
		Score:        0.80,
		Decision:     "flag_for_review",
		Reason:       "threshold",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !activated {
		t.Error("score == 0.80 must latch even without an activate decision")
	}
}

func TestRecordTurnTranscript(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	// Monitoring turn: one entry (inbound only).
	s, _, err := st.RecordTurn(ctx, "s", Turn{IncomingText: "hello", Score: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Transcript) != 1 || s.Transcript[0].Sender != SenderScammer {
		t.Fatalf("monitoring turn transcript = %+v, want single scammer entry", s.Transcript)
	}

	// Turn with a reply: exactly two entries, inbound first.
	s, _, err = st.RecordTurn(ctx, "s", Turn{
		IncomingText: "send otp",
		Score:        0.9,
		Decision:     DecisionActivate,
		Reply:        "how to check?",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Transcript) != 3 {
		t.Fatalf("transcript length = %d, want 3", len(s.Transcript))
	}
	if s.Transcript[1].Sender != SenderScammer || s.Transcript[2].Sender != SenderAgent {
		t.Errorf("transcript order wrong: %+v", s.Transcript[1:])
	}
	if s.Transcript[2].Text != "how to check?" {
		t.Errorf("agent reply text = %q", s.Transcript[2].Text)
	}
	if s.LastInteraction.IsZero() {
		t.Error("lastInteraction not set")
	}
}

func TestRecordTurnEvidenceAccumulates(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	ext := evidence.Default()

	turn1 := ext.Extract("Your account 123456789012 is blocked. Click http://bit.ly/fake now, OTP required.")
	s, _, err := st.RecordTurn(ctx, "s", Turn{IncomingText: "t1", Evidence: turn1, Score: 0.85, Decision: DecisionActivate})
	if err != nil {
		t.Fatal(err)
	}
	urlsAfter1 := len(s.Evidence.ByType(evidence.TypeURL))

	// Second turn repeats one artifact and adds a new one.
	turn2 := ext.Extract("same link http://bit.ly/fake plus pay mule@paytm")
	s, _, err = st.RecordTurn(ctx, "s", Turn{IncomingText: "t2", Evidence: turn2, Score: 0.2})
	if err != nil {
		t.Fatal(err)
	}

	if got := len(s.Evidence.ByType(evidence.TypeURL)); got != urlsAfter1 {
		t.Errorf("duplicate url changed count: %d -> %d", urlsAfter1, got)
	}
	if got := s.Evidence.Raws(evidence.TypeUPIID); len(got) != 1 || got[0] != "mule@paytm" {
		t.Errorf("new upi evidence not appended: %v", got)
	}
	if got := s.Evidence.Raws(evidence.TypeBankAccount); len(got) != 1 {
		t.Errorf("turn-1 evidence lost: %v", got)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	s1, _, err := st.RecordTurn(ctx, "s", Turn{IncomingText: "hello", Score: 0.1})
	if err != nil {
		t.Fatal(err)
	}

	// Mutating the returned snapshot must not leak into the store.
	s1.State = StateHoneypot
	s1.Transcript[0].Text = "tampered"
	s1.Evidence[evidence.TypeURL] = append(s1.Evidence[evidence.TypeURL],
		evidence.Item{Raw: "http://injected", Type: evidence.TypeURL})

	s2, err := st.GetOrCreate(ctx, "s")
	if err != nil {
		t.Fatal(err)
	}
	if s2.State != StateMonitoring {
		t.Error("snapshot mutation changed stored state")
	}
	if s2.Transcript[0].Text != "hello" {
		t.Error("snapshot mutation changed stored transcript")
	}
	if len(s2.Evidence.ByType(evidence.TypeURL)) != 0 {
		t.Error("snapshot mutation changed stored evidence")
	}
}

func TestConcurrentActivationSingleLatch(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	var activations atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, activated, err := st.RecordTurn(ctx, "shared", Turn{
				IncomingText: "pay now",
				Score:        0.95,
				Decision:     DecisionActivate,
				Reply:        "ok",
			})
			if err != nil {
				t.Errorf("RecordTurn: %v", err)
				return
			}
			if activated {
				activations.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := activations.Load(); got != 1 {
		t.Errorf("justActivated fired %d times across concurrent turns, want exactly 1", got)
	}
}

func TestDistinctSessionsDoNotContend(t *testing.T) {
	// A stalled turn on one session must not slow turns on other ids.
	slow := &blockingPersister{entered: make(chan struct{}), release: make(chan struct{})}
	st := NewStore(WithPersister(slow), WithLockWait(50*time.Millisecond))
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		_, _, _ = st.RecordTurn(ctx, "stuck", Turn{IncomingText: "x", Score: 0})
		close(done)
	}()
	<-slow.entered

	slow.skipNext.Store(true)
	if _, _, err := st.RecordTurn(ctx, "other", Turn{IncomingText: "y", Score: 0}); err != nil {
		t.Errorf("independent session blocked: %v", err)
	}

	close(slow.release)
	<-done
}

func TestSameSessionContentionError(t *testing.T) {
	slow := &blockingPersister{entered: make(chan struct{}), release: make(chan struct{})}
	st := NewStore(WithPersister(slow), WithLockWait(30*time.Millisecond))
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		_, _, _ = st.RecordTurn(ctx, "s", Turn{IncomingText: "first", Score: 0})
		close(done)
	}()
	<-slow.entered

	// Same id while the first turn holds the lock: bounded wait, then a
	// retryable contention error.
	slow.skipNext.Store(true)
	_, _, err := st.RecordTurn(ctx, "s", Turn{IncomingText: "second", Score: 0})
	if !errors.Is(err, ErrSessionBusy) {
		t.Errorf("expected ErrSessionBusy, got %v", err)
	}

	close(slow.release)
	<-done

	// The lock is released on every exit path, so the session recovers.
	if _, _, err := st.RecordTurn(ctx, "s", Turn{IncomingText: "third", Score: 0}); err != nil {
		t.Errorf("session did not recover after contention: %v", err)
	}
}

func TestContextCancelledDuringAcquire(t *testing.T) {
	slow := &blockingPersister{entered: make(chan struct{}), release: make(chan struct{})}
	st := NewStore(WithPersister(slow), WithLockWait(10*time.Second))

	done := make(chan struct{})
	go func() {
		_, _, _ = st.RecordTurn(context.Background(), "s", Turn{IncomingText: "first", Score: 0})
		close(done)
	}()
	<-slow.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	slow.skipNext.Store(true)
	_, _, err := st.RecordTurn(ctx, "s", Turn{IncomingText: "second", Score: 0})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context deadline error, got %v", err)
	}

	close(slow.release)
	<-done
}

// blockingPersister parks the first Save until released, exposing the
// per-session lock to concurrent callers. Load is always a miss.
type blockingPersister struct {
	once     sync.Once
	entered  chan struct{}
	release  chan struct{}
	skipNext atomic.Bool
}

func (p *blockingPersister) Save(ctx context.Context, rec *Record) error {
	if p.skipNext.Load() {
		return nil
	}
	p.once.Do(func() {
		close(p.entered)
		<-p.release
	})
	return nil
}

func (p *blockingPersister) Load(ctx context.Context, sessionID string) (*Record, error) {
	return nil, nil
}
