package gateway

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const videoPrompt = `You are a friendly and clear video analyst.
Analyze the uploaded video file in detail.

Your goal is to explain the content simply, as if explaining to a beginner or a young student.

formatting Instructions:
1. Return the result in pure HTML format.
2. DO NOT use Markdown characters like * (asterisks) or # (hashes).
3. Use <h3> for main headings.
4. Use <p> for paragraphs with comfortable spacing.
5. Use <ul> and <li> for lists.
6. Use <strong> tags for emphasis instead of bold asterisks.
7. If there are math formulas, use LaTeX enclosed in $ signs (e.g. $E=mc^2$).

Structure the response as:
- <h3>Summary</h3>: A simple overview.
- <h3>Key Details</h3>: Bullet points of what happened.
- <h3>Explanation</h3>: A clear breakdown of the concepts found.`

// AnalyzeVideo explains a video as restricted HTML (headings, paragraphs,
// lists, emphasis). prompt is an optional question about the video. Code
// fences the model adds anyway are removed.
func (g *Gateway) AnalyzeVideo(ctx context.Context, prompt string, video File) (string, error) {
	text := videoPrompt
	if p := strings.TrimSpace(prompt); p != "" {
		text += "\n\nSpecific User Question: " + p
	}

	parts := []*genai.Part{
		{InlineData: &genai.Blob{Data: video.Data, MIMEType: video.MIMEType}},
		{Text: text},
	}
	resp, err := g.generate(ctx, "video", g.models.Video, userContent(parts...), nil)
	if err != nil {
		return "", err
	}

	html := stripHTMLFences(responseText(resp))
	if html == "" {
		return "", fmt.Errorf("gateway: video: %w", ErrNoAnalysisReturned)
	}
	return html, nil
}

func stripHTMLFences(s string) string {
	s = strings.ReplaceAll(s, "```html", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
