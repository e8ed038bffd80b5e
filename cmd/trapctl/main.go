// Command trapctl is the operator CLI for a running scamtrap gateway:
// an interactive chat loop for poking the honeypot, a live log tail, and a
// health probe.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/scamtrap-ai/scamtrap/pkg/config"
	"github.com/scamtrap-ai/scamtrap/pkg/events"
	"github.com/scamtrap-ai/scamtrap/pkg/report"
)

var (
	serverURL string
	apiKey    string
)

func main() {
	root := &cobra.Command{
		Use:          "trapctl",
		Short:        "Operator CLI for the scamtrap gateway",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:3000", "gateway base URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", config.GetEnv("SCAMTRAP_API_KEY", "dev-secret-key"), "x-api-key for /api/chat")

	root.AddCommand(chatCmd(), logsCmd(), healthCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type chatResponse struct {
	Status                string              `json:"status"`
	Reply                 *string             `json:"reply"`
	ScamDetected          bool                `json:"scamDetected"`
	Confidence            float64             `json:"confidence"`
	ExtractedIntelligence report.Intelligence `json:"extractedIntelligence"`
}

func chatCmd() *cobra.Command {
	var sessionID string
	var channel string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat loop against the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				sessionID = "trapctl-" + uuid.NewString()
			}
			color.New(color.Bold).Printf("scamtrap chat - session %s (ctrl-d to quit)\n", sessionID)

			client := &http.Client{Timeout: 60 * time.Second}
			scanner := bufio.NewScanner(os.Stdin)
			for {
				color.New(color.FgGreen).Print("you> ")
				if !scanner.Scan() {
					fmt.Println()
					return scanner.Err()
				}
				text := strings.TrimSpace(scanner.Text())
				if text == "" {
					continue
				}

				start := time.Now()
				resp, err := postChat(client, sessionID, channel, text)
				if err != nil {
					color.Red("error: %v", err)
					continue
				}
				color.New(color.FgHiBlack).Printf("(%dms)\n", time.Since(start).Milliseconds())

				printChatResponse(resp)
			}
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: random)")
	cmd.Flags().StringVar(&channel, "channel", "SMS", "channel hint: SMS, WhatsApp or Email")
	return cmd
}

func postChat(client *http.Client, sessionID, channel, text string) (*chatResponse, error) {
	body, err := json.Marshal(map[string]any{
		"sessionId": sessionID,
		"channel":   channel,
		"message":   map[string]string{"text": text, "sender": "scammer"},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, serverURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}

func printChatResponse(resp *chatResponse) {
	if resp.Reply != nil {
		replyColor := color.New(color.FgWhite)
		if resp.ScamDetected {
			replyColor = color.New(color.FgMagenta)
		}
		fmt.Printf("%s: %s\n", color.New(color.Bold).Sprint("honeypot"), replyColor.Sprint(*resp.Reply))
	} else {
		color.New(color.FgHiBlack).Println("honeypot: (monitoring, no reply)")
	}
	if resp.ScamDetected {
		color.Red("[ALERT] Scam detected! Confidence: %.2f", resp.Confidence)
	}

	intel := resp.ExtractedIntelligence
	if len(intel.SuspiciousKeywords)+len(intel.UPIIDs)+len(intel.BankAccounts)+
		len(intel.PhishingLinks)+len(intel.PhoneNumbers) == 0 {
		return
	}
	color.Yellow("Extracted intel:")
	if len(intel.SuspiciousKeywords) > 0 {
		color.Red("  Keywords: %s", strings.Join(intel.SuspiciousKeywords, ", "))
	}
	if len(intel.UPIIDs) > 0 {
		color.Cyan("  UPI: %s", strings.Join(intel.UPIIDs, ", "))
	}
	if len(intel.BankAccounts) > 0 {
		color.Cyan("  Bank: %s", strings.Join(intel.BankAccounts, ", "))
	}
	if len(intel.PhoneNumbers) > 0 {
		color.Cyan("  Phones: %s", strings.Join(intel.PhoneNumbers, ", "))
	}
	if len(intel.PhishingLinks) > 0 {
		color.Red("  Links: %s", strings.Join(intel.PhishingLinks, ", "))
	}
}

func logsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "Tail the gateway's live event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(serverURL + "/api/events")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("gateway returned %d", resp.StatusCode)
			}

			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				line := scanner.Text()
				if !strings.HasPrefix(line, "data: ") {
					continue
				}
				var ev events.Event
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
					continue
				}
				stamp := ev.Timestamp.Local().Format("15:04:05")
				switch ev.Type {
				case events.LevelAlert:
					color.Yellow("%s ALERT %s", stamp, ev.Message)
				case events.LevelError:
					color.Red("%s ERROR %s", stamp, ev.Message)
				default:
					fmt.Printf("%s INFO  %s\n", stamp, ev.Message)
				}
			}
			return scanner.Err()
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(serverURL + "/health")
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			var status map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return fmt.Errorf("decoding health response: %w", err)
			}
			if resp.StatusCode == http.StatusOK && status["status"] == "ok" {
				color.Green("gateway healthy: %v", status)
				return nil
			}
			color.Red("gateway unhealthy (%d): %v", resp.StatusCode, status)
			return fmt.Errorf("unhealthy")
		},
	}
}
