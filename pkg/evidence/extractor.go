package evidence

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Fixed per-type confidences. Phones are intentionally low: a bank account
// digit run frequently contains a valid-looking mobile number.
const (
	confidenceBankAccount = 0.85
	confidenceUPIID       = 0.95
	confidenceURL         = 0.90
	confidencePhone       = 0.70
	confidenceKeyword     = 0.60
)

// Pre-compiled artifact patterns (compiled once, used on every message).
var (
	// 9-18 consecutive digits, the common Indian bank account range
	reBankAccount = regexp.MustCompile(`\b\d{9,18}\b`)

	// Indian mobile: optional +91 prefix, first digit 6-9, 10 digits total
	rePhone = regexp.MustCompile(`(?:\+91[\-\s]?)?[6-9]\d{9}\b`)

	// Absolute http(s) URLs with a plausible host and optional path
	reURL = regexp.MustCompile(`(?i)https?://(?:www\.)?[-a-zA-Z0-9@:%._+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b[-a-zA-Z0-9()@:%_+.~#?&/=]*`)
)

// upiHandles is the allow-list of known payment-provider suffixes for UPI
// virtual payment addresses. Matching is case-insensitive.
var upiHandles = []string{
	"paytm", "ybl", "okaxis", "oksbi", "axl", "ibl", "upi",
	"okhdfcbank", "okicici", "barodampay", "idbi", "aubank",
	"axisbank", "bandhan", "federal", "hdfcbank", "icici", "indus",
	"kbl", "kotak", "paywiz", "rbl", "sbi", "sc", "sib", "uco",
	"unionbank", "yesbank",
}

// defaultKeywords spans the urgency, payment, authority-impersonation and
// distress lexicons scammers lean on. Matched as case-insensitive substrings.
var defaultKeywords = []string{
	"blocked", "suspended", "verify", "kyc", "urgency", "urgent", "immediate",
	"expire", "lapse", "refund", "lottery", "winner", "prize", "password", "otp",
	"pin", "cvv", "atm card", "credit card", "debit card", "click here", "link",
	"police", "arrest", "jail", "cbi", "customs", "suicide", "died", "killed",
	"accident", "hospital", "drugs", "illegal", "fbi", "income tax", "seized",
}

// RuleFile is the optional on-disk extension of the built-in rules.
type RuleFile struct {
	Keywords   []string `yaml:"keywords"`
	UPIHandles []string `yaml:"upi_handles"`
}

// Extractor scans raw message text for typed evidence. Safe for concurrent
// use: all state is read-only after construction.
type Extractor struct {
	keywords []string
	reUPI    *regexp.Regexp
}

// Option configures an Extractor.
type Option func(*Extractor) error

// WithRuleFile merges extra keywords and UPI handles from a YAML file into
// the built-in rule set.
func WithRuleFile(path string) Option {
	return func(e *Extractor) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read rule file: %w", err)
		}
		var rf RuleFile
		if err := yaml.Unmarshal(data, &rf); err != nil {
			return fmt.Errorf("parse rule file %s: %w", path, err)
		}
		e.keywords = appendUnique(e.keywords, rf.Keywords)
		if len(rf.UPIHandles) > 0 {
			e.reUPI = compileUPIPattern(appendUnique(upiHandles, rf.UPIHandles))
		}
		return nil
	}
}

// NewExtractor builds an extractor with the built-in rules plus any options.
func NewExtractor(opts ...Option) (*Extractor, error) {
	e := &Extractor{
		keywords: append([]string(nil), defaultKeywords...),
		reUPI:    compileUPIPattern(upiHandles),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

var (
	defaultExtractor *Extractor
	defaultOnce      sync.Once
)

// Default returns the shared extractor built from the built-in rules only.
func Default() *Extractor {
	defaultOnce.Do(func() {
		defaultExtractor, _ = NewExtractor()
	})
	return defaultExtractor
}

// Extract scans one message and returns the evidence found in it. The
// result covers exactly this message, never cumulative state. Empty input
// yields an empty set for every type; Extract never fails.
func (e *Extractor) Extract(text string) Set {
	set := NewSet()
	if text == "" {
		return set
	}

	// Fold fullwidth and compatibility forms so obfuscated digits and
	// letters still hit the ASCII patterns below.
	text = norm.NFKC.String(text)

	for _, m := range reBankAccount.FindAllString(text, -1) {
		set[TypeBankAccount] = append(set[TypeBankAccount], newItem(m, TypeBankAccount, confidenceBankAccount))
	}
	for _, m := range e.reUPI.FindAllString(text, -1) {
		set[TypeUPIID] = append(set[TypeUPIID], newItem(m, TypeUPIID, confidenceUPIID))
	}
	for _, m := range reURL.FindAllString(text, -1) {
		set[TypeURL] = append(set[TypeURL], newItem(m, TypeURL, confidenceURL))
	}
	for _, m := range rePhone.FindAllString(text, -1) {
		set[TypePhone] = append(set[TypePhone], newItem(m, TypePhone, confidencePhone))
	}

	lower := strings.ToLower(text)
	for _, k := range e.keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			set[TypeKeyword] = append(set[TypeKeyword], newItem(k, TypeKeyword, confidenceKeyword))
		}
	}

	return set
}

// Keywords returns the active keyword list.
func (e *Extractor) Keywords() []string {
	return append([]string(nil), e.keywords...)
}

func newItem(match string, t Type, confidence float64) Item {
	return Item{
		Raw:        match,
		Normalized: strings.TrimSpace(match),
		Type:       t,
		Confidence: confidence,
		Snippet:    match,
	}
}

func compileUPIPattern(handles []string) *regexp.Regexp {
	quoted := make([]string, 0, len(handles))
	for _, h := range handles {
		quoted = append(quoted, regexp.QuoteMeta(h))
	}
	return regexp.MustCompile(`(?i)[a-zA-Z0-9.\-_]{2,256}@(` + strings.Join(quoted, "|") + `)\b`)
}

func appendUnique(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	for _, s := range base {
		seen[strings.ToLower(s)] = true
	}
	out := append([]string(nil), base...)
	for _, s := range extra {
		s = strings.TrimSpace(s)
		if s == "" || seen[strings.ToLower(s)] {
			continue
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
	}
	return out
}
