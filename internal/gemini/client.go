// Package gemini implements the narrative, image and analysis collaborators
// of the turn pipeline on the Gemini API.
package gemini

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/tatianab/storyframe/internal/apperrors"
)

//go:embed prompts/*.txt
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.txt"))

// Options selects models and the content permissiveness.
type Options struct {
	APIKey     string
	TextModel  string
	ImageModel string
	GridModel  string
	// Permissiveness is one of strict, default, relaxed or off.
	Permissiveness string
}

// Client talks to Gemini. It is safe for concurrent use.
type Client struct {
	client *genai.Client
	opts   Options
	safety []*genai.SafetySetting
	log    zerolog.Logger
}

func NewClient(ctx context.Context, opts Options, log zerolog.Logger) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{
		client: client,
		opts:   opts,
		safety: SafetySettings(opts.Permissiveness),
		log:    log.With().Str("component", "gemini").Logger(),
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// model returns a fresh handle so per-call settings never leak between
// concurrent requests.
func (c *Client) model(name string) *genai.GenerativeModel {
	m := c.client.GenerativeModel(name)
	m.SafetySettings = c.safety
	return m
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func (c *Client) generateText(ctx context.Context, m *genai.GenerativeModel, what string, parts ...genai.Part) (string, error) {
	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", apperrors.Generation(what, err)
	}
	text := responseText(resp)
	if text == "" {
		return "", apperrors.Generation(what, fmt.Errorf("no content returned from Gemini"))
	}
	return text, nil
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return strings.TrimSpace(sb.String())
}

// responseBlob returns the first inline image of the first candidate.
func responseBlob(resp *genai.GenerateContentResponse) (genai.Blob, bool) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return genai.Blob{}, false
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if blob, ok := part.(genai.Blob); ok && len(blob.Data) > 0 {
			return blob, true
		}
	}
	return genai.Blob{}, false
}

// cleanYAML strips the markdown fences models like to wrap YAML in.
func cleanYAML(text string) string {
	clean := strings.TrimSpace(text)
	clean = strings.TrimPrefix(clean, "```yaml")
	clean = strings.TrimPrefix(clean, "```yml")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}
