package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/MrWong99/tutorlive/internal/gateway"
	"github.com/MrWong99/tutorlive/internal/history"
	"github.com/MrWong99/tutorlive/internal/observe"
)

// fileJSON is an attachment on the wire. Data is base64 in JSON.
type fileJSON struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mimeType"`
	Name     string `json:"name"`
}

func (f *fileJSON) file() *gateway.File {
	if f == nil {
		return nil
	}
	return &gateway.File{Data: f.Data, MIMEType: f.MIMEType, Name: f.Name}
}

// ── Solve ─────────────────────────────────────────────────────────────────────

type solveRequest struct {
	Prompt string    `json:"prompt"`
	File   *fileJSON `json:"file"`
	Mode   string    `json:"mode"`
	Prior  *struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	} `json:"prior"`
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	var req solveRequest
	if !decode(w, r, bodyLimit(s.maxUpload), &req) {
		return
	}
	if req.File != nil && len(req.File.Data) == 0 {
		req.File = nil
	}
	hasFile := req.File != nil
	if strings.TrimSpace(req.Prompt) == "" && !hasFile {
		writeError(w, http.StatusBadRequest, "Enter a question or attach a file.")
		return
	}
	if hasFile && int64(len(req.File.Data)) > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File size too large. Please upload files under %dMB.", s.maxUpload>>20))
		return
	}
	mode, err := gateway.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown solver mode.")
		return
	}

	sreq := gateway.SolveRequest{Prompt: req.Prompt, File: req.File.file(), Mode: mode}
	if req.Prior != nil {
		sreq.Prior = &gateway.Turn{Question: req.Prior.Question, Answer: req.Prior.Answer}
	}

	res, err := s.gw.Solve(r.Context(), sreq)
	if err != nil {
		s.writeGatewayError(w, r, "solve", err)
		return
	}

	var mime, name string
	if hasFile {
		mime, name = req.File.MIMEType, req.File.Name
	}
	entry := history.NewEntry(
		history.Title(req.Prompt, name, hasFile),
		res.Answer,
		history.SourceTypeFor(mime, hasFile),
		string(mode),
	)
	s.remember(r, entry)

	writeJSON(w, http.StatusOK, res)
}

// remember appends e to the caller's history. A storage failure is logged
// and does not fail the request that produced the answer.
func (s *Server) remember(r *http.Request, e history.Entry) {
	if err := s.history.Add(r.Context(), history.Key(userID(r)), e); err != nil {
		observe.Logger(r.Context()).Warn("could not save history entry", "err", err)
	}
}

// ── Speech ────────────────────────────────────────────────────────────────────

type speechRequest struct {
	Text string `json:"text"`
}

type speechResponse struct {
	Audio    []byte `json:"audio"`
	MIMEType string `json:"mimeType"`
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if !decode(w, r, bodyOverhead, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "Nothing to read aloud.")
		return
	}
	sp, err := s.gw.GenerateSpeech(r.Context(), req.Text)
	if err != nil {
		s.writeGatewayError(w, r, "speech", err)
		return
	}
	writeJSON(w, http.StatusOK, speechResponse{Audio: sp.Audio, MIMEType: sp.MIMEType})
}

// ── Flashcard ─────────────────────────────────────────────────────────────────

type flashcardRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Concept  string `json:"concept"`
}

func (s *Server) handleFlashcard(w http.ResponseWriter, r *http.Request) {
	var req flashcardRequest
	if !decode(w, r, bodyOverhead, &req) {
		return
	}
	card, err := s.gw.CreateFlashcard(r.Context(), req.Question, req.Answer, req.Concept)
	if err != nil {
		s.writeGatewayError(w, r, "flashcard", err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// ── Video ─────────────────────────────────────────────────────────────────────

type videoRequest struct {
	Prompt string    `json:"prompt"`
	File   *fileJSON `json:"file"`
}

type videoResponse struct {
	HTML string `json:"html"`
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	var req videoRequest
	if !decode(w, r, bodyLimit(s.maxVideo), &req) {
		return
	}
	if req.File == nil || len(req.File.Data) == 0 {
		writeError(w, http.StatusBadRequest, "Attach a video to analyze.")
		return
	}
	if int64(len(req.File.Data)) > s.maxVideo {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Video file is too large. Please upload a video smaller than %dMB.", s.maxVideo>>20))
		return
	}

	html, err := s.gw.AnalyzeVideo(r.Context(), req.Prompt, *req.File.file())
	if err != nil {
		s.writeGatewayError(w, r, "video", err)
		return
	}

	s.remember(r, history.NewEntry(
		history.Title(req.Prompt, req.File.Name, true),
		html,
		history.SourceVideo,
		"",
	))
	writeJSON(w, http.StatusOK, videoResponse{HTML: html})
}

// ── Transcribe ────────────────────────────────────────────────────────────────

type transcribeRequest struct {
	Audio    []byte `json:"audio"`
	MIMEType string `json:"mimeType"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if !decode(w, r, bodyLimit(s.maxUpload), &req) {
		return
	}
	if len(req.Audio) == 0 {
		writeError(w, http.StatusBadRequest, "No audio to transcribe.")
		return
	}
	if int64(len(req.Audio)) > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, "Recording is too large.")
		return
	}
	mime := req.MIMEType
	if mime == "" {
		mime = gateway.DefaultTranscribeMIMEType
	}
	text, err := s.gw.Transcribe(r.Context(), req.Audio, mime)
	if err != nil {
		s.writeGatewayError(w, r, "transcribe", err)
		return
	}
	writeJSON(w, http.StatusOK, transcribeResponse{Text: text})
}

// ── History ───────────────────────────────────────────────────────────────────

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.history.List(r.Context(), history.Key(userID(r)))
	if err != nil {
		observe.Logger(r.Context()).Error("could not load history", "err", err)
		writeError(w, http.StatusInternalServerError, "Could not load history.")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Clear(r.Context(), history.Key(userID(r))); err != nil {
		observe.Logger(r.Context()).Error("could not clear history", "err", err)
		writeError(w, http.StatusInternalServerError, "Could not clear history.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
