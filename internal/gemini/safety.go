package gemini

import (
	"strings"

	"github.com/google/generative-ai-go/genai"
)

var harmCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

// SafetySettings maps a permissiveness level to block thresholds. Unknown
// levels and "default" leave the provider defaults in place.
func SafetySettings(level string) []*genai.SafetySetting {
	var threshold genai.HarmBlockThreshold
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "strict":
		threshold = genai.HarmBlockLowAndAbove
	case "relaxed":
		threshold = genai.HarmBlockOnlyHigh
	case "off", "none":
		threshold = genai.HarmBlockNone
	default:
		return nil
	}
	settings := make([]*genai.SafetySetting, 0, len(harmCategories))
	for _, category := range harmCategories {
		settings = append(settings, &genai.SafetySetting{Category: category, Threshold: threshold})
	}
	return settings
}
