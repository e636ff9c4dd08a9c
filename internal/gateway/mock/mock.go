// Package mock provides a test double for the gateway.Generator interface.
package mock

import (
	"context"
	"sync"

	"google.golang.org/genai"
)

// Call records a single GenerateContent invocation.
type Call struct {
	Model    string
	Contents []*genai.Content
	Config   *genai.GenerateContentConfig
}

// Generator is a mock implementation of gateway.Generator.
//
// Responses are returned in order, one per call; once exhausted, Response is
// returned. Err, when set, wins over both.
type Generator struct {
	mu sync.Mutex

	Responses []*genai.GenerateContentResponse
	Response  *genai.GenerateContentResponse
	Err       error

	calls []Call
}

// GenerateContent records the call and returns the configured reply.
func (g *Generator) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, Call{Model: model, Contents: contents, Config: cfg})
	if g.Err != nil {
		return nil, g.Err
	}
	if len(g.Responses) > 0 {
		r := g.Responses[0]
		g.Responses = g.Responses[1:]
		return r, nil
	}
	return g.Response, nil
}

// Calls returns a copy of every recorded call.
func (g *Generator) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}

// TextResponse builds a single-candidate reply holding text.
func TextResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

// AudioResponse builds a single-candidate reply holding inline audio.
func AudioResponse(data []byte, mimeType string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{
				InlineData: &genai.Blob{Data: data, MIMEType: mimeType},
			}}},
		}},
	}
}

// WithGrounding attaches web citations to the first candidate of resp. Each
// pair is {title, uri}; an empty uri yields a chunk without a locator.
func WithGrounding(resp *genai.GenerateContentResponse, pairs ...[2]string) *genai.GenerateContentResponse {
	md := &genai.GroundingMetadata{}
	for _, p := range pairs {
		md.GroundingChunks = append(md.GroundingChunks, &genai.GroundingChunk{
			Web: &genai.GroundingChunkWeb{Title: p[0], URI: p[1]},
		})
	}
	resp.Candidates[0].GroundingMetadata = md
	return resp
}
