// Package report delivers one-shot activation notifications to an external
// intelligence sink. A snapshot is built at the turn a session latches into
// honeypot mode and handed off fire-and-forget: delivery failures are logged
// and never surface to the request that triggered them.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/scamtrap-ai/scamtrap/pkg/evidence"
	"github.com/scamtrap-ai/scamtrap/pkg/httputil"
	"github.com/scamtrap-ai/scamtrap/pkg/session"
)

// Intelligence is the flattened, string-list view of a session's cumulative
// evidence, keyed by the field names the sink expects.
type Intelligence struct {
	BankAccounts       []string `json:"bankAccounts"`
	UPIIDs             []string `json:"upiIds"`
	PhishingLinks      []string `json:"phishingLinks"`
	PhoneNumbers       []string `json:"phoneNumbers"`
	SuspiciousKeywords []string `json:"suspiciousKeywords"`
}

// Snapshot is the payload posted to the sink when a session activates.
type Snapshot struct {
	EventID                string       `json:"eventId"`
	SessionID              string       `json:"sessionId"`
	ScamDetected           bool         `json:"scamDetected"`
	TotalMessagesExchanged int          `json:"totalMessagesExchanged"`
	ExtractedIntelligence  Intelligence `json:"extractedIntelligence"`
	AgentNotes             string       `json:"agentNotes"`
	ReportedAt             time.Time    `json:"reportedAt"`
}

// BuildSnapshot flattens a session into the sink payload. The session is a
// snapshot copy, so reads here race with nothing.
func BuildSnapshot(s *session.Session) Snapshot {
	return Snapshot{
		EventID:                uuid.NewString(),
		SessionID:              s.ID,
		ScamDetected:           true,
		TotalMessagesExchanged: len(s.Transcript),
		ExtractedIntelligence: Intelligence{
			BankAccounts:       s.Evidence.Raws(evidence.TypeBankAccount),
			UPIIDs:             s.Evidence.Raws(evidence.TypeUPIID),
			PhishingLinks:      s.Evidence.Raws(evidence.TypeURL),
			PhoneNumbers:       s.Evidence.Raws(evidence.TypePhone),
			SuspiciousKeywords: s.Evidence.Raws(evidence.TypeKeyword),
		},
		AgentNotes: fmt.Sprintf("%s [Score: %.2f]", s.DecisionReason, s.Score),
		ReportedAt: time.Now().UTC(),
	}
}

// Reporter posts snapshots to a single sink URL. A semaphore bounds the
// number of in-flight deliveries so an activation burst cannot pile up
// goroutines.
type Reporter struct {
	url    string
	client *http.Client
	sem    *httputil.Semaphore
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithHTTPClient overrides the delivery client (tests point it at httptest).
func WithHTTPClient(c *http.Client) Option {
	return func(r *Reporter) { r.client = c }
}

// WithSemaphore overrides the in-flight delivery bound.
func WithSemaphore(s *httputil.Semaphore) Option {
	return func(r *Reporter) { r.sem = s }
}

// NewReporter creates a reporter for the given sink URL. An empty URL yields
// a reporter whose Submit is a logged no-op, so callers never need to branch.
func NewReporter(url string, opts ...Option) *Reporter {
	r := &Reporter{
		url:    url,
		client: httputil.FastClient(),
		sem:    httputil.NewSemaphore(50),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit hands a snapshot off for asynchronous delivery and returns
// immediately. At capacity the snapshot is dropped and counted, never queued.
func (r *Reporter) Submit(snap Snapshot) {
	if r.url == "" {
		log.Printf("[REPORT] no sink configured, dropping snapshot for session %s", snap.SessionID)
		return
	}
	if !r.sem.TryAcquire() {
		log.Printf("[REPORT] delivery capacity reached (%d dropped), dropping snapshot for session %s",
			r.sem.DroppedCount(), snap.SessionID)
		return
	}
	go func() {
		defer r.sem.Release()
		if err := r.Send(context.Background(), snap); err != nil {
			log.Printf("[REPORT] delivery failed for session %s: %v", snap.SessionID, err)
			return
		}
		log.Printf("[REPORT] delivered snapshot %s for session %s", snap.EventID, snap.SessionID)
	}()
}

// Send performs one synchronous delivery. Submit is the usual entry point;
// Send exists for callers that want to own the retry/timeout policy.
func (r *Reporter) Send(ctx context.Context, snap Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting snapshot: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
	return nil
}
