package gateway

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultSpeechMIMEType describes the raw PCM the speech model returns when
// the reply does not say otherwise.
const DefaultSpeechMIMEType = "audio/L16;codec=pcm;rate=24000"

// Speech is narrated audio.
type Speech struct {
	Audio    []byte
	MIMEType string
}

// CleanSpeechText removes LaTeX delimiters, block markers first, keeping the
// math between them.
func CleanSpeechText(s string) string {
	s = strings.ReplaceAll(s, "$$", "")
	return strings.ReplaceAll(s, "$", "")
}

func speechPrompt(text string) string {
	return fmt.Sprintf("Read the following math solution clearly and naturally, like a helpful tutor explaining it to a student. Keep it concise but encouraging: \"%s\"", CleanSpeechText(text))
}

// GenerateSpeech narrates text with the speech model. It fails with
// [ErrNoAudioReturned] when the reply carries no inline audio.
func (g *Gateway) GenerateSpeech(ctx context.Context, text string) (Speech, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: g.models.SpeechVoice},
			},
		},
	}

	resp, err := g.generate(ctx, "speech", g.models.Speech, userContent(&genai.Part{Text: speechPrompt(text)}), cfg)
	if err != nil {
		return Speech{}, err
	}

	c := firstCandidate(resp)
	if c == nil || c.Content == nil || len(c.Content.Parts) == 0 ||
		c.Content.Parts[0] == nil || c.Content.Parts[0].InlineData == nil ||
		len(c.Content.Parts[0].InlineData.Data) == 0 {
		return Speech{}, fmt.Errorf("gateway: speech: %w", ErrNoAudioReturned)
	}

	blob := c.Content.Parts[0].InlineData
	mime := blob.MIMEType
	if mime == "" {
		mime = DefaultSpeechMIMEType
	}
	return Speech{Audio: blob.Data, MIMEType: mime}, nil
}
