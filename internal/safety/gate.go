// Package safety screens untrusted text before it reaches a provider.
package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/guiofsaints/procureflow-sub000/internal/errx"
)

// DefaultPatterns are prompt-override phrasings rejected by default.
var DefaultPatterns = []string{
	`(?i)\b(ignore|disregard|forget|override)\b.{0,40}\b(previous|prior|above|earlier|system)\b.{0,40}\b(instructions?|directives?|prompts?|rules?|messages?)\b`,
	`(?i)\byou\s+are\s+no\s+longer\b`,
	`(?i)\b(reveal|print|show|repeat)\b.{0,30}\b(system\s+prompt|hidden\s+instructions?)\b`,
	`(?i)\bact\s+as\s+(an?\s+)?(unrestricted|jailbroken|dan)\b`,
	`(?i)<\s*/?\s*(system|im_start|im_end)\s*>`,
}

// Moderator is an external content check.
type Moderator interface {
	Flagged(ctx context.Context, text string) (flagged bool, categories string, err error)
}

// Config holds gate settings
type Config struct {
	MaxInputChars int
	Patterns      []string
}

// Gate sanitizes user text and tool arguments.
type Gate struct {
	maxChars  int
	patterns  []*regexp.Regexp
	moderator Moderator
	logger    logrus.FieldLogger
}

// Option configures a Gate
type Option func(*Gate)

// WithModerator adds an external moderation check
func WithModerator(m Moderator) Option {
	return func(g *Gate) {
		g.moderator = m
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(g *Gate) {
		g.logger = l
	}
}

// NewGate compiles the configured patterns.
func NewGate(cfg Config, opts ...Option) (*Gate, error) {
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	g := &Gate{maxChars: cfg.MaxInputChars}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		g.patterns = append(g.patterns, re)
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logrus.StandardLogger()
	}
	return g, nil
}

// Sanitize returns text safe to forward to a provider, or a ContextTooLarge
// or InjectionSuspected error.
func (g *Gate) Sanitize(ctx context.Context, text string) (string, error) {
	clean := strings.TrimSpace(StripControl(text))

	if g.maxChars > 0 && utf8.RuneCountInString(clean) > g.maxChars {
		return "", errx.New(errx.ContextTooLarge,
			fmt.Sprintf("message exceeds %d characters", g.maxChars))
	}

	for _, re := range g.patterns {
		if re.MatchString(clean) {
			g.logger.WithField("pattern", re.String()).Warn("Rejected message matching prompt-override pattern")
			return "", errx.New(errx.InjectionSuspected, "message was rejected by the safety filter")
		}
	}

	if g.moderator != nil && clean != "" {
		flagged, categories, err := g.moderator.Flagged(ctx, clean)
		switch {
		case err != nil:
			g.logger.WithError(err).Warn("Moderation check failed, continuing without it")
		case flagged:
			g.logger.WithField("categories", categories).Warn("Rejected message flagged by moderation")
			return "", errx.New(errx.InjectionSuspected, "message was rejected by the safety filter")
		}
	}

	return clean, nil
}

// SanitizeArguments strips control characters from every string in a tool
// call's JSON arguments. Arguments that are not JSON are returned unchanged
// for schema validation to reject.
func (g *Gate) SanitizeArguments(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(cleanValue(v))
	if err != nil {
		return raw
	}
	return out
}

func cleanValue(v any) any {
	switch t := v.(type) {
	case string:
		return StripControl(t)
	case []any:
		for i := range t {
			t[i] = cleanValue(t[i])
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[StripControl(k)] = cleanValue(val)
		}
		return out
	default:
		return v
	}
}

// StripControl removes control and format characters except newline and tab.
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
}
