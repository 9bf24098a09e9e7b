package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/tatianab/storyframe/internal/archive"
	"github.com/tatianab/storyframe/internal/assets"
	"github.com/tatianab/storyframe/internal/config"
	"github.com/tatianab/storyframe/internal/engine"
	"github.com/tatianab/storyframe/internal/frames"
	"github.com/tatianab/storyframe/internal/gemini"
	"github.com/tatianab/storyframe/internal/logging"
	"github.com/tatianab/storyframe/internal/session"
	"github.com/tatianab/storyframe/internal/world"
)

func main() {
	var (
		configPath = flag.String("config", "storyframe.yaml", "Optional YAML config file")
		sessionID  = flag.String("session", "simulation", "Session id to play")
		maxTurns   = flag.Int("turns", 10, "Number of turns to play")
	)
	flag.Parse()

	ctx := context.Background()
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.RequireAPIKey(); err != nil {
		log.Fatal(err)
	}
	logger := logging.ConfigureRuntime(logging.Options{Level: cfg.LogLevel})

	// The game master: the full pipeline on Gemini.
	gm, err := gemini.NewClient(ctx, gemini.Options{
		APIKey:         cfg.GeminiAPIKey,
		TextModel:      cfg.TextModel,
		ImageModel:     cfg.ImageModel,
		GridModel:      cfg.GridModel,
		Permissiveness: cfg.Permissiveness,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to create GM client: %v", err)
	}
	defer gm.Close()

	store, err := session.NewStore(ctx, session.StoreTypeMemory)
	if err != nil {
		log.Fatalf("Failed to create session store: %v", err)
	}
	ledger, err := archive.Open(ctx, cfg.ArchivePath)
	if err != nil {
		log.Fatalf("Failed to open archive: %v", err)
	}
	defer ledger.Close()

	eng := engine.NewEngine(engine.Deps{
		Store:       store,
		World:       world.NewAccumulator(gm, gm, ledger, logger, world.Options{ExtractionTimeout: cfg.ExtractionTimeout}),
		Selector:    frames.NewSelector(frames.Backend(cfg.ImageBackend), cfg.ExpensiveCost),
		Assets:      assets.NewStore(cfg.SaveDir),
		Narrator:    gm,
		Choices:     gm,
		Illustrator: gm,
		Analyzer:    gm,
		Resetter:    ledger,
	}, engine.Options{
		ImageTimeout:     cfg.ImageTimeout,
		NarrativeTimeout: cfg.NarrativeTimeout,
		CostCeiling:      cfg.CostCeiling,
	}, logger)

	// The player LLM
	playerClient, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		log.Fatalf("Failed to create player client: %v", err)
	}
	defer playerClient.Close()
	playerModel := playerClient.GenerativeModel(cfg.TextModel)

	fmt.Println("--- Step 1: Requesting a theme from the Player LLM ---")
	themePrompt := "You are a player about to start an illustrated story game. Provide a short, creative hint for a world (e.g., 'steampunk underwater city', 'noir detective in a world of cats'). Return ONLY the hint."
	theme := ask(ctx, playerModel, themePrompt, "a lighthouse at the edge of the world")
	fmt.Printf("Player chose theme: %s\n\n", theme)

	fmt.Println("--- Step 2: Beginning the session ---")
	t, err := eng.Begin(ctx, *sessionID, theme)
	if err != nil {
		log.Fatalf("Failed to begin session: %v", err)
	}
	fmt.Printf("World: %s\n\n%s\n\n", t.State.WorldPrompt, t.Narrative.Text)
	out, err := t.Wait(ctx)
	if err != nil {
		log.Fatalf("Failed to persist intro: %v", err)
	}
	report(out)

	for turn := 1; turn <= *maxTurns; turn++ {
		fmt.Printf("--- Turn %d ---\n", turn)

		action := playerAction(ctx, playerModel, out)
		fmt.Printf("Player Action: %s\n", action)

		t, err := eng.Submit(ctx, *sessionID, action)
		if err != nil {
			fmt.Printf("Error processing turn: %v\n", err)
			break
		}
		fmt.Printf("GM Outcome: %s\n", t.Narrative.Text)

		out, err = t.Wait(ctx)
		if err != nil {
			fmt.Printf("Error persisting turn: %v\n", err)
			break
		}
		report(out)
	}

	entries, err := ledger.List(ctx, *sessionID, 0)
	if err != nil {
		log.Fatalf("Failed to read archive: %v", err)
	}
	fmt.Printf("Archive holds %d entries for %q.\n", len(entries), *sessionID)
}

func report(out engine.Outcome) {
	if out.Entry.Fate != "" {
		fmt.Printf("Fate: %s\n", out.Entry.Fate)
	}
	if out.Entry.Image != nil {
		fmt.Printf("Frame: %s (%s)\n", out.Entry.Image.Full, out.Entry.ImageMode)
	}
	if out.Degraded() {
		fmt.Printf("Gaps: %s\n", strings.Join(out.Gaps, ", "))
	}
	fmt.Printf("Situation: %s\n", out.State.CurrentSituation)
	fmt.Printf("Seen: %v\n\n", out.State.SeenElements)
}

func playerAction(ctx context.Context, model *genai.GenerativeModel, out engine.Outcome) string {
	prompt := fmt.Sprintf(`You are playing an illustrated story game.
World: %s
Current situation: %s
Recent events:
%s

What happened last: %s

Suggested actions: %s

What is your next action? Pick a suggestion or invent your own within the world's logic. Return ONLY the action string, no extra commentary.`,
		out.State.WorldPrompt,
		out.State.CurrentSituation,
		strings.Join(out.State.RecentEvents, "\n"),
		out.Entry.Narrative,
		strings.Join(out.Entry.Choices, "; "),
	)
	fallback := "look around"
	if len(out.Entry.Choices) > 0 {
		fallback = out.Entry.Choices[0]
	}
	return ask(ctx, model, prompt, fallback)
}

func ask(ctx context.Context, model *genai.GenerativeModel, prompt, fallback string) string {
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return fallback
	}
	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok || strings.TrimSpace(string(text)) == "" {
		return fallback
	}
	return strings.TrimSpace(string(text))
}
