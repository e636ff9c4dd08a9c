package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	gocache "github.com/patrickmn/go-cache"
	"google.golang.org/genai"
)

// Flashcard is a study card.
type Flashcard struct {
	Front   string  `json:"front"`
	Back    string  `json:"back"`
	Tip     string  `json:"tip"`
	Outcome Outcome `json:"outcome"`
}

var flashcardSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"front": {Type: genai.TypeString},
		"back":  {Type: genai.TypeString},
		"tip":   {Type: genai.TypeString},
	},
	Required: []string{"front", "back", "tip"},
}

func flashcardPrompt(question, answer, concept string) string {
	return `Create a study flashcard based on this math problem.
Question: ` + question + `
Answer: ` + answer + `
Concept: ` + concept + `

Return a JSON object with:
- front: A concise version of the question or concept to test memory.
- back: The clear answer/explanation.
- tip: A helpful hint or mnemonic.`
}

// CreateFlashcard turns a solved problem into a study card. Apart from a
// missing API key, every failure yields the degraded card
// {front: question, back: answer, tip: concept} instead of an error.
// Generated cards are cached by their inputs.
func (g *Gateway) CreateFlashcard(ctx context.Context, question, answer, concept string) (Flashcard, error) {
	if !g.HasCredential() {
		return Flashcard{}, ErrMissingCredential
	}

	key := question + "\x00" + answer + "\x00" + concept
	if g.flashcards != nil {
		if v, ok := g.flashcards.Get(key); ok {
			return v.(Flashcard), nil
		}
	}

	fallback := Flashcard{Front: question, Back: answer, Tip: concept, Outcome: OutcomeDegraded}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   flashcardSchema,
	}
	resp, err := g.generate(ctx, "flashcard", g.models.Flashcard, userContent(&genai.Part{Text: flashcardPrompt(question, answer, concept)}), cfg)
	if err != nil {
		if errors.Is(err, ErrMissingCredential) {
			return Flashcard{}, err
		}
		g.log.Warn("flashcard generation failed, using fallback", "err", err)
		g.metrics.RecordGatewayFallback(ctx, "flashcard")
		return fallback, nil
	}

	var card struct {
		Front string `json:"front"`
		Back  string `json:"back"`
		Tip   string `json:"tip"`
	}
	text := strings.TrimSpace(responseText(resp))
	if err := json.Unmarshal([]byte(text), &card); err != nil || card.Front == "" || card.Back == "" {
		g.log.Warn("flashcard reply unusable, using fallback", "err", err, "raw", text)
		g.metrics.RecordGatewayFallback(ctx, "flashcard")
		return fallback, nil
	}

	out := Flashcard{Front: card.Front, Back: card.Back, Tip: card.Tip, Outcome: OutcomeParsed}
	if g.flashcards != nil {
		g.flashcards.Set(key, out, gocache.DefaultExpiration)
	}
	return out, nil
}
