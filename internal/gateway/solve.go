package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Mode selects how a problem is solved.
type Mode string

const (
	// ModeStandard uses the balanced model with native structured output.
	ModeStandard Mode = "standard"
	// ModeFast uses the cheaper model with the same output contract.
	ModeFast Mode = "fast"
	// ModeSearch enables web search; the JSON reply is parsed by hand.
	ModeSearch Mode = "search"
)

// ParseMode validates a mode name. The empty string means [ModeStandard].
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeStandard:
		return ModeStandard, nil
	case ModeFast:
		return ModeFast, nil
	case ModeSearch:
		return ModeSearch, nil
	}
	return "", fmt.Errorf("gateway: unknown mode %q", s)
}

// Outcome tags how a result was produced.
type Outcome int

const (
	// OutcomeParsed means the model's reply was parsed as requested.
	OutcomeParsed Outcome = iota
	// OutcomeDegraded means the reply could not be parsed and a fallback
	// was substituted.
	OutcomeDegraded
)

// String returns "parsed" or "degraded".
func (o Outcome) String() string {
	if o == OutcomeDegraded {
		return "degraded"
	}
	return "parsed"
}

// MarshalText implements [encoding.TextMarshaler].
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText implements [encoding.TextUnmarshaler].
func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "parsed", "":
		*o = OutcomeParsed
	case "degraded":
		*o = OutcomeDegraded
	default:
		return fmt.Errorf("gateway: unknown outcome %q", b)
	}
	return nil
}

// File is an attachment already decoded by the caller.
type File struct {
	Data     []byte
	MIMEType string
	Name     string
}

// Turn is one earlier question and answer used as follow-up context.
type Turn struct {
	Question string
	Answer   string
}

// SolveRequest is the input to [Gateway.Solve].
type SolveRequest struct {
	Prompt string
	File   *File
	Mode   Mode
	Prior  *Turn
}

// Source is a web page the answer was grounded on.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// SolveResult is a tutored answer.
type SolveResult struct {
	Answer  string   `json:"answer"`
	Steps   []string `json:"steps"`
	Concept string   `json:"concept"`
	Sources []Source `json:"sources,omitempty"`
	Outcome Outcome  `json:"outcome"`
}

// solvePayload is the JSON shape the model is asked to produce.
type solvePayload struct {
	Answer  string   `json:"answer"`
	Steps   []string `json:"steps"`
	Concept string   `json:"concept"`
}

// empty reports a payload without an answer or steps, as decoded from
// "null" or "{}".
func (p solvePayload) empty() bool {
	return strings.TrimSpace(p.Answer) == "" && len(p.Steps) == 0
}

func (p solvePayload) result() SolveResult {
	steps := p.Steps
	if steps == nil {
		steps = []string{}
	}
	return SolveResult{Answer: p.Answer, Steps: steps, Concept: p.Concept, Outcome: OutcomeParsed}
}

const (
	searchFallbackAnswer  = "See steps for details."
	searchFallbackConcept = "Search Result"
)

const tutorPrompt = `You are an intelligent, encouraging, and interactive Math Tutor.
Your goal is NOT just to calculate answers, but to TEACH and ensure understanding based on the user's specific command.

Analyze the user's intent from their input:
- If they ask "Solve...", provide a clear, step-by-step solution.
- If they ask "Explain..." or "Teach me...", focus heavily on the 'concept' and make the 'steps' very descriptive and educational.
- If they ask "Check...", look at the provided image or text and gently correct any mistakes.

If an image or document is provided, first perform OCR to extract the mathematical content, then address the user's command regarding it.

Return the result in JSON format with the following structure:
- answer: The final result.
- steps: An array of strings. Write these conversationally, like a teacher speaking to a student (e.g., "First, let's identify...", "Notice that...").
- concept: A clear, easy-to-understand explanation of the mathematical concept used (e.g., "Chain Rule", "Pythagorean Theorem").

Use LaTeX formatting for all mathematical expressions, enclosed in single dollar signs $...$ for inline and double $$...$$ for block.
Example: "The integral of $x^2$ is $\frac{x^3}{3}$".

Do not use Markdown formatting (like **bold** or # Header) in the text steps, use plain text or LaTeX only.`

const searchPrompt = `

IMPORTANT: You have access to Google Search. Use it to find up-to-date real-world data (e.g. population, currency rates, scientific constants) if the question requires it.

OUTPUT INSTRUCTION: Provide the output strictly in valid JSON format. Do not use markdown code blocks. Just the raw JSON string.`

var solveSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"answer":  {Type: genai.TypeString},
		"steps":   {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"concept": {Type: genai.TypeString},
	},
	Required: []string{"answer", "steps", "concept"},
}

// solvePrompt assembles the instruction text for req.
func solvePrompt(req SolveRequest) string {
	var b strings.Builder
	b.WriteString(tutorPrompt)
	if req.Mode == ModeSearch {
		b.WriteString(searchPrompt)
	}
	if p := req.Prior; p != nil && p.Question != "" && p.Answer != "" {
		fmt.Fprintf(&b, "\n\nPREVIOUS CONVERSATION HISTORY (Use this for context if the user asks a follow-up question):\nUser asked: \"%s\"\nYou answered: \"%s\"", p.Question, p.Answer)
	}
	if q := strings.TrimSpace(req.Prompt); q != "" {
		b.WriteString("\n\nUser Command/Question: ")
		b.WriteString(req.Prompt)
	}
	if req.File != nil {
		fmt.Fprintf(&b, "\n\nReference the attached file (%s) for the problem.", req.File.MIMEType)
	}
	return b.String()
}

// Solve answers a tutoring request. Standard and fast modes request native
// structured output; search mode enables web search, parses the JSON itself,
// and degrades to a raw-text result instead of failing when it cannot.
func (g *Gateway) Solve(ctx context.Context, req SolveRequest) (SolveResult, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeStandard
	}
	req.Mode = mode

	var parts []*genai.Part
	if req.File != nil {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: req.File.Data, MIMEType: req.File.MIMEType}})
	}
	parts = append(parts, &genai.Part{Text: solvePrompt(req)})

	cfg := &genai.GenerateContentConfig{}
	var model string
	switch mode {
	case ModeSearch:
		model = g.models.Search
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	case ModeFast:
		model = g.models.Fast
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = solveSchema
	case ModeStandard:
		model = g.models.Standard
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = solveSchema
	default:
		return SolveResult{}, fmt.Errorf("gateway: solve: unknown mode %q", mode)
	}

	op := "solve_" + string(mode)
	resp, err := g.generate(ctx, op, model, userContent(parts...), cfg)
	if err != nil {
		return SolveResult{}, err
	}

	text := responseText(resp)
	if strings.TrimSpace(text) == "" {
		return SolveResult{}, fmt.Errorf("gateway: %s: %w", op, ErrNoResponse)
	}

	if mode != ModeSearch {
		var p solvePayload
		if err := json.Unmarshal([]byte(text), &p); err != nil {
			g.log.Error("solve reply is not valid json", "op", op, "err", err, "raw", text)
			return SolveResult{}, fmt.Errorf("gateway: %s: %w: %w", op, ErrMalformedResponse, err)
		}
		if p.empty() {
			g.log.Error("solve reply has no answer", "op", op, "raw", text)
			return SolveResult{}, fmt.Errorf("gateway: %s: %w: empty payload", op, ErrMalformedResponse)
		}
		return p.result(), nil
	}

	res := parseSearchReply(text)
	if res.Outcome == OutcomeDegraded {
		g.log.Warn("search reply is not valid json, using raw text", "op", op)
		g.metrics.RecordGatewayFallback(ctx, op)
	}
	res.Sources = groundingSources(resp)
	return res, nil
}

// parseSearchReply parses a free-text JSON reply. It never fails: text that
// is not JSON, or JSON without an answer or steps, becomes a degraded result
// carrying the raw text as its single step.
func parseSearchReply(text string) SolveResult {
	cleaned := strings.ReplaceAll(text, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	var p solvePayload
	if err := json.Unmarshal([]byte(cleaned), &p); err == nil && !p.empty() {
		return p.result()
	}
	return SolveResult{
		Answer:  searchFallbackAnswer,
		Steps:   []string{text},
		Concept: searchFallbackConcept,
		Outcome: OutcomeDegraded,
	}
}

// groundingSources maps web citations from the first candidate. Chunks
// without a URI are skipped.
func groundingSources(resp *genai.GenerateContentResponse) []Source {
	c := firstCandidate(resp)
	if c == nil || c.GroundingMetadata == nil {
		return nil
	}
	var out []Source
	for _, ch := range c.GroundingMetadata.GroundingChunks {
		if ch == nil || ch.Web == nil || ch.Web.URI == "" {
			continue
		}
		out = append(out, Source{Title: ch.Web.Title, URI: ch.Web.URI})
	}
	return out
}
