package gateway_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/tutorlive/internal/gateway"
	"github.com/MrWong99/tutorlive/internal/gateway/mock"
)

func TestAnalyzeVideo(t *testing.T) {
	t.Parallel()
	reply := "```html\n<h3>Summary</h3><p>A ball is thrown.</p>\n```"
	gen := &mock.Generator{Response: mock.TextResponse(reply)}
	h := newHarness(t, gen)

	video := gateway.File{Data: []byte("mp4data"), MIMEType: "video/mp4", Name: "throw.mp4"}
	html, err := h.gw.AnalyzeVideo(context.Background(), "How high does it go?", video)
	if err != nil {
		t.Fatalf("AnalyzeVideo: %v", err)
	}
	if html != "<h3>Summary</h3><p>A ball is thrown.</p>" {
		t.Errorf("html = %q", html)
	}

	c := gen.Calls()[0]
	parts := c.Contents[0].Parts
	if parts[0].InlineData == nil || parts[0].InlineData.MIMEType != "video/mp4" {
		t.Errorf("first part should carry the video")
	}
	prompt := parts[1].Text
	for _, s := range []string{"Return the result in pure HTML format.", "<h3>Key Details</h3>", "LaTeX enclosed in $ signs"} {
		if !strings.Contains(prompt, s) {
			t.Errorf("prompt missing %q", s)
		}
	}
	if !strings.HasSuffix(prompt, "\n\nSpecific User Question: How high does it go?") {
		t.Errorf("prompt should end with the user question: %q", prompt[len(prompt)-60:])
	}
}

func TestAnalyzeVideo_NoQuestion(t *testing.T) {
	t.Parallel()
	gen := &mock.Generator{Response: mock.TextResponse("<p>ok</p>")}
	h := newHarness(t, gen)

	if _, err := h.gw.AnalyzeVideo(context.Background(), "", gateway.File{MIMEType: "video/webm"}); err != nil {
		t.Fatalf("AnalyzeVideo: %v", err)
	}
	if strings.Contains(gen.Calls()[0].Contents[0].Parts[1].Text, "Specific User Question") {
		t.Error("no question line expected")
	}
}

func TestAnalyzeVideo_Empty(t *testing.T) {
	t.Parallel()
	for _, reply := range []string{"", "```html\n```"} {
		h := newHarness(t, &mock.Generator{Response: mock.TextResponse(reply)})
		_, err := h.gw.AnalyzeVideo(context.Background(), "", gateway.File{MIMEType: "video/mp4"})
		if !errors.Is(err, gateway.ErrNoAnalysisReturned) {
			t.Errorf("reply %q: err = %v, want ErrNoAnalysisReturned", reply, err)
		}
	}
}
