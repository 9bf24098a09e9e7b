package gemini

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"gopkg.in/yaml.v3"

	"github.com/tatianab/storyframe/internal/apperrors"
	"github.com/tatianab/storyframe/internal/engine"
	"github.com/tatianab/storyframe/internal/world"
)

const (
	extractionTemperature = 0.1
	extractionMaxTokens   = 256
	situationTemperature  = 0.4
	situationMaxTokens    = 300
)

var (
	_ engine.Narrator       = (*Client)(nil)
	_ engine.ChoiceWriter   = (*Client)(nil)
	_ engine.Illustrator    = (*Client)(nil)
	_ engine.Analyzer       = (*Client)(nil)
	_ world.SituationWriter = (*Client)(nil)
	_ world.EntityExtractor = (*Client)(nil)
)

type narrativeYAML struct {
	Story       string `yaml:"story"`
	Fate        string `yaml:"fate"`
	ImagePrompt string `yaml:"image_prompt"`
}

// GenerateWorld expands a short hint into a world prompt.
func (c *Client) GenerateWorld(ctx context.Context, hint string) (string, error) {
	prompt, err := render("generate_world.txt", struct{ Hint string }{Hint: hint})
	if err != nil {
		return "", err
	}
	return c.generateText(ctx, c.model(c.opts.TextModel), "generate world", genai.Text(prompt))
}

// Opening writes the intro turn.
func (c *Client) Opening(ctx context.Context, worldPrompt string) (engine.Narrative, error) {
	prompt, err := render("opening.txt", struct{ WorldPrompt string }{WorldPrompt: worldPrompt})
	if err != nil {
		return engine.Narrative{}, err
	}
	return c.narrative(ctx, "opening", prompt)
}

// Continue resolves a player action.
func (c *Client) Continue(ctx context.Context, req engine.NarrativeRequest) (engine.Narrative, error) {
	prompt, err := render("continue.txt", struct {
		engine.NarrativeRequest
		Situation string
		Events    []string
		Seen      string
	}{
		NarrativeRequest: req,
		Situation:        req.State.CurrentSituation,
		Events:           req.State.RecentEvents,
		Seen:             strings.Join(req.State.SeenElements, ", "),
	})
	if err != nil {
		return engine.Narrative{}, err
	}
	return c.narrative(ctx, "continue narrative", prompt)
}

func (c *Client) narrative(ctx context.Context, what, prompt string) (engine.Narrative, error) {
	text, err := c.generateText(ctx, c.model(c.opts.TextModel), what, genai.Text(prompt))
	if err != nil {
		return engine.Narrative{}, err
	}
	n, err := parseNarrative(text)
	if err != nil {
		c.log.Debug().Str("output", text).Msg("unparseable narrative")
		return engine.Narrative{}, apperrors.Generation(what, err)
	}
	return n, nil
}

func parseNarrative(text string) (engine.Narrative, error) {
	clean := cleanYAML(text)
	var out narrativeYAML
	if err := yaml.Unmarshal([]byte(clean), &out); err != nil {
		return engine.Narrative{}, fmt.Errorf("failed to parse narrative YAML: %w", err)
	}
	if strings.TrimSpace(out.Story) == "" {
		return engine.Narrative{}, fmt.Errorf("narrative has no story")
	}
	return engine.Narrative{
		Text:        strings.TrimSpace(out.Story),
		Fate:        strings.ToLower(strings.TrimSpace(out.Fate)),
		ImagePrompt: strings.TrimSpace(out.ImagePrompt),
	}, nil
}

// Choices proposes the next player choices.
func (c *Client) Choices(ctx context.Context, req engine.ChoiceRequest) ([]string, error) {
	prompt, err := render("choices.txt", struct {
		engine.ChoiceRequest
		Situation string
	}{ChoiceRequest: req, Situation: req.State.CurrentSituation})
	if err != nil {
		return nil, err
	}
	text, err := c.generateText(ctx, c.model(c.opts.TextModel), "generate choices", genai.Text(prompt))
	if err != nil {
		return nil, err
	}
	return parseList(text, "choices"), nil
}

// UpdateSituation rewrites the current situation after a turn.
func (c *Client) UpdateSituation(ctx context.Context, req world.SituationRequest) (string, error) {
	prompt, err := render("situation.txt", req)
	if err != nil {
		return "", err
	}
	m := c.model(c.opts.TextModel)
	m.SetTemperature(situationTemperature)
	m.SetMaxOutputTokens(situationMaxTokens)
	return c.generateText(ctx, m, "update situation", genai.Text(prompt))
}

// ExtractEntities proposes entity phrases found in a situation.
func (c *Client) ExtractEntities(ctx context.Context, situation string) ([]string, error) {
	prompt, err := render("entities.txt", struct{ Situation string }{Situation: situation})
	if err != nil {
		return nil, err
	}
	m := c.model(c.opts.TextModel)
	m.SetTemperature(extractionTemperature)
	m.SetMaxOutputTokens(extractionMaxTokens)
	text, err := c.generateText(ctx, m, "extract entities", genai.Text(prompt))
	if err != nil {
		return nil, err
	}
	return parseList(text, "entities"), nil
}

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

// parseList reads a YAML list, either bare or under key. Output that is not
// YAML is read one item per line with list markers removed.
func parseList(text, key string) []string {
	clean := cleanYAML(text)

	var keyed map[string][]string
	if err := yaml.Unmarshal([]byte(clean), &keyed); err == nil && keyed[key] != nil {
		return trimAll(keyed[key])
	}
	var bare []string
	if err := yaml.Unmarshal([]byte(clean), &bare); err == nil && len(bare) > 0 {
		return trimAll(bare)
	}

	var out []string
	for _, line := range strings.Split(clean, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		line = strings.Trim(line, `"'`)
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func trimAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
