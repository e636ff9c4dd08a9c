package gateway

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/tutorlive/pkg/provider/stt"
)

// DefaultTranscribeMIMEType is assumed when the caller gives no type.
const DefaultTranscribeMIMEType = "audio/wav"

const transcribePrompt = "Transcribe the audio exactly as spoken."

// Transcribe returns the words spoken in a recording. An empty reply yields
// "" with no error. When a dedicated transcriber was configured with
// [WithTranscriber], it is tried first.
func (g *Gateway) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if !g.HasCredential() {
		return "", ErrMissingCredential
	}
	if mimeType == "" {
		mimeType = DefaultTranscribeMIMEType
	}
	return g.transcriber.Transcribe(ctx, audio, mimeType)
}

// geminiTranscriber transcribes with the general model.
type geminiTranscriber struct{ g *Gateway }

var _ stt.Provider = geminiTranscriber{}

func (t geminiTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	parts := []*genai.Part{
		{InlineData: &genai.Blob{Data: audio, MIMEType: mimeType}},
		{Text: transcribePrompt},
	}
	resp, err := t.g.generate(ctx, "transcribe", t.g.models.Transcribe, userContent(parts...), nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(responseText(resp)), nil
}
