package gemini

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"

	"github.com/tatianab/storyframe/internal/apperrors"
	"github.com/tatianab/storyframe/internal/engine"
	"github.com/tatianab/storyframe/internal/frames"
	"github.com/tatianab/storyframe/internal/models"
)

// gridLayout is what the expensive generator is asked to produce.
var gridLayout = models.GridLayout{Rows: 2, Cols: 2}

type imagePromptData struct {
	engine.ImageRequest
	Grid    bool
	Layout  models.GridLayout
	Refs    int
	Degrees string
}

// Illustrate generates one frame. The expensive generator renders a grid of
// consecutive panels on the grid model.
func (c *Client) Illustrate(ctx context.Context, req engine.ImageRequest) (engine.Image, error) {
	grid := req.Generator == frames.Expensive
	prompt, err := render("image.txt", imagePromptData{
		ImageRequest: req,
		Grid:         grid,
		Layout:       gridLayout,
		Refs:         len(req.References),
		Degrees:      adherence(req.Strength),
	})
	if err != nil {
		return engine.Image{}, err
	}

	name := c.opts.ImageModel
	if grid {
		name = c.opts.GridModel
	}
	parts := []genai.Part{genai.Text(prompt)}
	for _, ref := range req.References {
		parts = append(parts,
			genai.Text(fmt.Sprintf("Reference %s from turn %d, weight %.2f:", ref.Role, ref.Turn, ref.Weight)),
			genai.Blob{MIMEType: ref.MIMEType, Data: ref.Data},
		)
	}

	resp, err := c.model(name).GenerateContent(ctx, parts...)
	if err != nil {
		return engine.Image{}, apperrors.Generation("generate image", err)
	}
	blob, ok := responseBlob(resp)
	if !ok {
		return engine.Image{}, apperrors.Generation("generate image", fmt.Errorf("no image returned from %s", name))
	}

	img := engine.Image{Data: blob.Data, Prompt: prompt}
	if grid {
		layout := gridLayout
		img.Grid = &layout
	}
	c.log.Debug().Str("model", name).Str("mode", string(req.Mode)).Int("refs", len(req.References)).Msg("image generated")
	return img, nil
}

// Describe summarises what a frame shows so the next turn can build on it.
func (c *Client) Describe(ctx context.Context, data []byte, mimeType string) (string, error) {
	prompt, err := render("vision.txt", nil)
	if err != nil {
		return "", err
	}
	m := c.model(c.opts.TextModel)
	m.SetTemperature(situationTemperature)
	m.SetMaxOutputTokens(situationMaxTokens)
	return c.generateText(ctx, m, "describe frame", genai.Text(prompt), genai.Blob{MIMEType: mimeType, Data: data})
}

// adherence phrases a reference strength for the image prompt.
func adherence(strength float64) string {
	switch {
	case strength >= 0.8:
		return "very closely"
	case strength >= 0.6:
		return "closely"
	case strength >= 0.5:
		return "loosely"
	case strength > 0:
		return "only for style and palette"
	default:
		return ""
	}
}
