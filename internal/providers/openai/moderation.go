package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Moderator checks text against the OpenAI moderation endpoint.
type Moderator struct {
	client *openai.Client
	model  string
}

// NewModerator creates a moderation checker
func NewModerator(apiKey, baseURL string) *Moderator {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &Moderator{
		client: openai.NewClientWithConfig(clientConfig),
		model:  openai.ModerationTextLatest,
	}
}

// Flagged reports whether the text was flagged, with the categories that fired.
func (m *Moderator) Flagged(ctx context.Context, text string) (bool, string, error) {
	resp, err := m.client.Moderations(ctx, openai.ModerationRequest{
		Input: text,
		Model: m.model,
	})
	if err != nil {
		return false, "", fmt.Errorf("moderation request: %w", err)
	}

	for _, result := range resp.Results {
		if !result.Flagged {
			continue
		}
		return true, strings.Join(flaggedCategories(result.Categories), ","), nil
	}
	return false, "", nil
}

func flaggedCategories(c openai.ResultCategories) []string {
	var out []string
	add := func(name string, on bool) {
		if on {
			out = append(out, name)
		}
	}
	add("hate", c.Hate)
	add("hate/threatening", c.HateThreatening)
	add("self-harm", c.SelfHarm)
	add("sexual", c.Sexual)
	add("sexual/minors", c.SexualMinors)
	add("violence", c.Violence)
	add("violence/graphic", c.ViolenceGraphic)
	return out
}
