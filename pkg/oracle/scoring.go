package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/scamtrap-ai/scamtrap/pkg/session"
)

// Verdict is the scoring oracle's judgment of one inbound message.
type Verdict struct {
	Score    float64  `json:"maliciousness_score"`
	Decision string   `json:"decision"` // activate | flag_for_review | no_action
	Reasons  []string `json:"decision_reasons"`
}

// Reason returns the primary reason string for session metrics.
func (v Verdict) Reason() string {
	if len(v.Reasons) > 0 && v.Reasons[0] != "" {
		return v.Reasons[0]
	}
	return "Detected by system"
}

func neutralVerdict(reason string) Verdict {
	return Verdict{Score: 0, Decision: "no_action", Reasons: []string{reason}}
}

const scoringSystemPrompt = `You are a scam-detection analyst for a honeypot system.

Goal:
- Judge whether the current interaction is a confirmed fraud attempt.
- Only recommend activation for clearly malicious interactions.

Detection rules:
1. Compute a maliciousness score S in [0,1] from lexical, structural and
   contextual signals (urgency, payment coercion, authority impersonation,
   credential harvesting, phishing links).
2. Decide:
   - S >= 0.80 with at least two independent strong indicators: "activate".
   - 0.60 <= S < 0.80: "flag_for_review".
   - S < 0.60: "no_action".

Output format (STRICT JSON, nothing else):
{
  "maliciousness_score": <float 0-1>,
  "decision": "activate" | "flag_for_review" | "no_action",
  "decision_reasons": ["reason 1", "reason 2"]
}`

// ScoringConfig configures the scoring client.
type ScoringConfig struct {
	BaseURL     string
	Model       string
	APIKeys     []string
	Temperature float64
	Client      *http.Client // overridable for tests
}

// ScoringClient asks the external oracle for a maliciousness verdict.
type ScoringClient struct {
	llm         *llmClient
	model       string
	temperature float64
}

// NewScoringClient builds a scoring client. Missing fields get defaults.
func NewScoringClient(cfg ScoringConfig) *ScoringClient {
	model := cfg.Model
	if model == "" {
		model = "llama-3.1-8b-instant"
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.1
	}
	return &ScoringClient{
		llm:         newLLMClient(cfg.BaseURL, cfg.APIKeys, cfg.Client),
		model:       model,
		temperature: temperature,
	}
}

// Assess scores one message in the context of recent history. It never
// returns an error: a failed or unparseable oracle call degrades to a
// neutral verdict (score 0, no_action) so a broken oracle cannot crash or
// block a turn. A missed activation is preferable to a failed request.
func (c *ScoringClient) Assess(ctx context.Context, message string, history []session.Message) Verdict {
	recent := make([]string, 0, 3)
	start := len(history) - 3
	if start < 0 {
		start = 0
	}
	for _, m := range history[start:] {
		recent = append(recent, m.Text)
	}

	userPrompt := fmt.Sprintf(
		"CURRENT INTERACTION:\nTimestamp: %s\nMessage: %q\nHistory Count: %d\nPrevious: %s",
		time.Now().UTC().Format(time.RFC3339), message, len(history), strings.Join(recent, " | "))

	raw, err := c.llm.completion(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: scoringSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    c.temperature,
		MaxTokens:      1024,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		log.Printf("[SCORING] oracle unavailable, degrading to no_action: %v", err)
		return neutralVerdict("scoring oracle unavailable")
	}

	var v Verdict
	if err := json.Unmarshal([]byte(extractJSON(raw)), &v); err != nil {
		log.Printf("[SCORING] unparseable oracle output: %v", err)
		// The call itself succeeded; something came back that we could not
		// read. Surface it for a human rather than silently discarding.
		return Verdict{Score: 0.5, Decision: "flag_for_review", Reasons: []string{"unparseable analyst output"}}
	}

	if v.Score < 0 {
		v.Score = 0
	}
	if v.Score > 1 {
		v.Score = 1
	}
	switch v.Decision {
	case "activate", "flag_for_review", "no_action":
	default:
		v.Decision = "no_action"
	}
	return v
}
