package secrets

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zricethezav/gitleaks/v8/detect"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devscontext/internal/config"
)

// Finding is a detected secret. The value itself is kept only long enough
// to redact it and is never logged.
type Finding struct {
	RuleID   string
	RuleDesc string
	Line     int
	secret   string
}

// Summary describes what a Scrub call removed.
type Summary struct {
	TotalSecrets int            `json:"total_secrets"`
	RuleCounts   map[string]int `json:"rule_counts,omitempty"`
	Duration     time.Duration  `json:"duration"`
}

// HasRedactions reports whether anything was removed.
func (s Summary) HasRedactions() bool { return s.TotalSecrets > 0 }

// Scrubber removes secrets from text.
type Scrubber interface {
	Scrub(text string) (string, Summary)
	Enabled() bool
}

// Marker renders the replacement for a secret matched by ruleID.
func Marker(ruleID string) string {
	return fmt.Sprintf("[REDACTED:%s]", ruleID)
}

// GitleaksScrubber scrubs text with the default Gitleaks rules, skipping
// anything the allowlist accepts. The detector is built once and shared.
type GitleaksScrubber struct {
	mu       sync.Mutex
	detector *detect.Detector
	allow    *Allowlist
	logger   *zap.Logger
}

// New builds a scrubber from cfg. A disabled config yields a Noop.
func New(cfg config.SecretsConfig, logger *zap.Logger) (Scrubber, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	allow, err := LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("loading allowlist: %w", err)
	}
	return NewGitleaks(allow, logger)
}

// NewGitleaks builds a Gitleaks-backed scrubber. allow may be nil.
func NewGitleaks(allow *Allowlist, logger *zap.Logger) (*GitleaksScrubber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating detector: %w", err)
	}
	return &GitleaksScrubber{detector: d, allow: allow, logger: logger}, nil
}

// Enabled is always true.
func (s *GitleaksScrubber) Enabled() bool { return true }

// Detect returns the secrets found in text.
func (s *GitleaksScrubber) Detect(text string) []Finding {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	s.mu.Lock()
	raw := s.detector.DetectString(text)
	s.mu.Unlock()

	out := make([]Finding, 0, len(raw))
	for _, f := range raw {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" || s.allow.Allows(secret) {
			continue
		}
		out = append(out, Finding{RuleID: f.RuleID, RuleDesc: f.Description, Line: f.StartLine, secret: secret})
	}
	return out
}

// Scrub replaces every detected secret with its marker. Longer secrets
// are replaced first so a secret that contains another is removed whole.
func (s *GitleaksScrubber) Scrub(text string) (string, Summary) {
	start := time.Now()
	findings := s.Detect(text)
	sum := Summary{RuleCounts: map[string]int{}}
	if len(findings) == 0 {
		sum.Duration = time.Since(start)
		return text, sum
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return len(findings[i].secret) > len(findings[j].secret)
	})
	for _, f := range findings {
		if !strings.Contains(text, f.secret) {
			continue
		}
		text = strings.ReplaceAll(text, f.secret, Marker(f.RuleID))
		sum.TotalSecrets++
		sum.RuleCounts[f.RuleID]++
	}
	sum.Duration = time.Since(start)

	if sum.HasRedactions() {
		s.logger.Info("redacted secrets",
			zap.Int("count", sum.TotalSecrets),
			zap.Any("rules", sum.RuleCounts),
			zap.Duration("duration", sum.Duration))
	}
	return text, sum
}

// Noop passes text through unchanged.
type Noop struct{}

func (Noop) Scrub(text string) (string, Summary) { return text, Summary{} }
func (Noop) Enabled() bool                       { return false }
