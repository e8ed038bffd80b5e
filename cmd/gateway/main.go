// Command gateway runs the scamtrap HTTP server: an authenticated chat
// endpoint that scores inbound scammer messages, engages a honeypot persona
// once a session latches, and streams operational events over SSE.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/scamtrap-ai/scamtrap/pkg/config"
	"github.com/scamtrap-ai/scamtrap/pkg/cryptobox"
	"github.com/scamtrap-ai/scamtrap/pkg/engine"
	"github.com/scamtrap-ai/scamtrap/pkg/events"
	"github.com/scamtrap-ai/scamtrap/pkg/evidence"
	"github.com/scamtrap-ai/scamtrap/pkg/oracle"
	"github.com/scamtrap-ai/scamtrap/pkg/report"
	"github.com/scamtrap-ai/scamtrap/pkg/session"
)

const Version = "0.1.0"

// chatMessage tolerates both the structured and the bare-string message
// shapes clients send.
type chatMessage struct {
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
}

func (m *chatMessage) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		m.Text = s
		m.Sender = "scammer"
		return nil
	}
	type plain chatMessage
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = chatMessage(p)
	return nil
}

type chatRequest struct {
	SessionID string       `json:"sessionId"`
	Message   *chatMessage `json:"message"`
	Channel   string       `json:"channel"`
}

func main() {
	cfg := config.NewDefaultConfig()
	cfg.MustValidate()

	ext, err := buildExtractor(cfg)
	if err != nil {
		log.Fatalf("[STARTUP] FATAL: loading pattern rules: %v", err)
	}

	hub := events.NewHub()
	store := buildStore(cfg)
	en := engine.New(store, buildScorer(cfg), buildPersona(cfg),
		engine.WithExtractor(ext),
		engine.WithReporter(report.NewReporter(cfg.ReportURL)),
		engine.WithHub(hub),
		engine.WithActivationThreshold(cfg.ActivationThreshold),
	)

	app := fiber.New(fiber.Config{
		AppName: "scamtrap",
	})

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("scamtrap gateway is running.")
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version, "sessions": store.Len()})
	})

	// Auth applies to the chat endpoint only; health and the event stream
	// stay open for probes and dashboards.
	authenticate := func(c fiber.Ctx) error {
		if c.Get("x-api-key") != cfg.APIKey {
			hub.Error(fmt.Sprintf("unauthorized access attempt from %s", c.IP()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"status": "error", "message": "Unauthorized: Invalid API Key",
			})
		}
		return c.Next()
	}

	app.Post("/api/chat", func(c fiber.Ctx) error {
		var req chatRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"status": "error", "message": "Invalid payload: message and sessionId are required",
			})
		}
		if req.Message == nil || req.Message.Text == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"status": "error", "message": "Invalid payload: message and sessionId are required",
			})
		}
		if req.SessionID == "" {
			req.SessionID = "anon-" + uuid.NewString()
		}

		res, err := en.HandleTurn(c.Context(), engine.TurnRequest{
			SessionID: req.SessionID,
			Text:      req.Message.Text,
			Channel:   req.Channel,
		})
		if err != nil {
			if errors.Is(err, session.ErrSessionBusy) {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"status": "error", "message": "Session busy, retry shortly",
				})
			}
			hub.Error(fmt.Sprintf("error processing request: %v", err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"status": "error", "message": "Internal server error",
			})
		}

		var reply any
		if res.Replied {
			reply = res.Reply
		}
		return c.JSON(fiber.Map{
			"status":       "success",
			"reply":        reply,
			"scamDetected": res.ScamDetected,
			"confidence":   res.Score,
			"extractedIntelligence": report.Intelligence{
				BankAccounts:       res.Session.Evidence.Raws(evidence.TypeBankAccount),
				UPIIDs:             res.Session.Evidence.Raws(evidence.TypeUPIID),
				PhishingLinks:      res.Session.Evidence.Raws(evidence.TypeURL),
				PhoneNumbers:       res.Session.Evidence.Raws(evidence.TypePhone),
				SuspiciousKeywords: res.Session.Evidence.Raws(evidence.TypeKeyword),
			},
		})
	}, authenticate)

	app.Get("/api/events", func(c fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")

		ch := hub.Subscribe()
		hub.Info("client connected to log stream")
		return c.SendStreamWriter(func(w *bufio.Writer) {
			defer hub.Unsubscribe(ch)
			for ev := range ch {
				if _, err := fmt.Fprintf(w, "data: %s\n\n", ev.JSON()); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		})
	})

	log.Printf("scamtrap gateway starting on :%s", cfg.Port)
	log.Printf("Endpoints:")
	log.Printf("  GET  /health      - Health check")
	log.Printf("  POST /api/chat    - Chat turn (x-api-key)")
	log.Printf("  GET  /api/events  - Live event stream (SSE)")

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal(err)
	}
}

func buildExtractor(cfg *config.Config) (*evidence.Extractor, error) {
	if cfg.PatternsFile == "" {
		return evidence.Default(), nil
	}
	return evidence.NewExtractor(evidence.WithRuleFile(cfg.PatternsFile))
}

func buildScorer(cfg *config.Config) *oracle.ScoringClient {
	return oracle.NewScoringClient(oracle.ScoringConfig{
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.ScoringModel,
		APIKeys: cfg.LLMAPIKeys,
	})
}

func buildPersona(cfg *config.Config) *oracle.PersonaClient {
	return oracle.NewPersonaClient(oracle.PersonaConfig{
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.PersonaModel,
		APIKeys: cfg.LLMAPIKeys,
	})
}

// buildStore wires the configured persister. Postgres wins over Redis when
// both are set; neither means pure in-memory sessions.
func buildStore(cfg *config.Config) *session.Store {
	opts := []session.StoreOption{
		session.WithCodec(cryptobox.New(cfg.EncryptionKey)),
		session.WithActivationThreshold(cfg.ActivationThreshold),
		session.WithLockWait(cfg.LockWait),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case cfg.DatabaseURL != "":
		p, err := session.NewPostgresPersister(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("[STARTUP] FATAL: connecting to Postgres: %v", err)
		}
		log.Println("[STARTUP] Session persistence: Postgres")
		opts = append(opts, session.WithPersister(p))
	case cfg.RedisAddr != "":
		p, err := session.NewRedisPersister(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatalf("[STARTUP] FATAL: connecting to Redis: %v", err)
		}
		log.Println("[STARTUP] Session persistence: Redis")
		opts = append(opts, session.WithPersister(p))
	default:
		log.Println("[STARTUP] Session persistence: in-memory only")
	}

	return session.NewStore(opts...)
}
