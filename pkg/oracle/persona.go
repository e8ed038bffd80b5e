package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/scamtrap-ai/scamtrap/pkg/httputil"
	"github.com/scamtrap-ai/scamtrap/pkg/session"
)

// FallbackReply is sent when the persona oracle fails while the honeypot is
// engaged. Canned and in-character: going silent would tip the scammer off.
const FallbackReply = "ok wait checking"

// PersonaRequest carries everything the persona oracle needs for one reply.
type PersonaRequest struct {
	Message    string
	History    []session.Message
	Evidence   map[string][]string // flattened cumulative evidence by type
	Channel    string              // SMS | WhatsApp | Email
	Confidence float64             // last oracle score
}

// PersonaConfig configures the persona client.
type PersonaConfig struct {
	BaseURL     string
	Model       string
	APIKeys     []string
	Temperature float64
	Client      *http.Client
}

// PersonaClient generates in-character honeypot replies. Only consulted
// once a session has latched to Honeypot.
type PersonaClient struct {
	llm         *llmClient
	model       string
	temperature float64
}

// NewPersonaClient builds a persona client. Missing fields get defaults.
func NewPersonaClient(cfg PersonaConfig) *PersonaClient {
	model := cfg.Model
	if model == "" {
		model = "llama-3.1-8b-instant"
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		// Higher temperature than scoring: replies need natural variation.
		temperature = 0.8
	}
	client := cfg.Client
	if client == nil {
		client = httputil.SlowClient()
	}
	return &PersonaClient{
		llm:         newLLMClient(cfg.BaseURL, cfg.APIKeys, client),
		model:       model,
		temperature: temperature,
	}
}

// Reply produces the next honeypot message. It never returns an error: any
// failure falls back to a canned in-character reply.
func (c *PersonaClient) Reply(ctx context.Context, req PersonaRequest) string {
	channel := req.Channel
	if channel == "" {
		channel = "SMS"
	}
	evidenceJSON, _ := json.Marshal(req.Evidence)

	systemPrompt := fmt.Sprintf(`You are the reply engine of a scam honeypot. A scam has been
confirmed; your mission is to keep the scammer talking and make them reveal
bank accounts, UPI ids and links.

CURRENT STATE:
- Channel: %s
- Scam Confidence: %.2f
- Extracted So Far: %s

PERSONA: average Indian user (30-45yo), slightly confused with technology,
cooperative but slow.

STRATEGY:
- Act confused ("what do you mean?", "how to check?")
- Ask for clarification ("send again pls", "is this correct?")
- Delay ("one min", "app loading")
- Comply slowly ("ok checking", "trying now")

CHANNEL ADAPTATION:
- SMS: very short (under 15 words), simple.
- WhatsApp: casual, "bro", "yaar", "wait one sec".
- Email: slightly formal, proper sentences.

NEVER reveal you are an AI. NEVER admit you know it is a scam.
Output ONLY the reply text. No quotes, no JSON.`, channel, req.Confidence, evidenceJSON)

	messages := make([]chatMessage, 0, len(req.History)+2)
	messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	for _, m := range req.History {
		role := "assistant"
		if m.Sender == session.SenderScammer {
			role = "user"
		}
		messages = append(messages, chatMessage{Role: role, Content: m.Text})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Message})

	raw, err := c.llm.completion(ctx, chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   100,
	})
	if err != nil {
		log.Printf("[PERSONA] oracle unavailable, using fallback reply: %v", err)
		return FallbackReply
	}

	reply := strings.TrimSpace(raw)
	reply = strings.Trim(reply, `"'`)
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return FallbackReply
	}
	return reply
}
