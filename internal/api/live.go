package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tutorlive/internal/browser"
	"github.com/MrWong99/tutorlive/internal/gateway"
	"github.com/MrWong99/tutorlive/internal/live"
	"github.com/MrWong99/tutorlive/internal/observe"
	"github.com/MrWong99/tutorlive/pkg/audio"
	"github.com/MrWong99/tutorlive/pkg/audio/virtual"
)

const msgSessionActive = "A live session is already running for this account. Close it before starting another."

// handleLive upgrades to a WebSocket and runs one live voice session over
// it. The connection stays open until either side ends the session.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(observe.WithUser(r.Context(), UserKey(r)))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		log.Warn("live: websocket upgrade failed", "err", err)
		return
	}

	br := browser.New(conn, browser.WithLogger(log))
	eg, ctx := errgroup.WithContext(r.Context())
	eg.Go(func() error { return br.Run(ctx) })
	eg.Go(func() error {
		defer br.Close("session ended")
		return s.runLive(ctx, br, UserKey(r), log)
	})
	if err := eg.Wait(); err != nil {
		log.Debug("live: connection ended", "err", err)
	}
}

// runLive starts a session wired to br and blocks until it is terminal.
func (s *Server) runLive(ctx context.Context, br *browser.Bridge, key string, log *slog.Logger) error {
	apiKey, err := s.gw.Credential()
	if err != nil {
		br.StateChanged(live.StateErrored, live.StatusError)
		_ = br.SendError(gateway.UserMessage(err))
		return nil
	}

	sess := live.New(
		br,
		audio.NewExclusivePlayback(virtual.New(br, virtual.WithLogger(log))),
		s.newLive(apiKey),
		s.liveCfg,
		live.WithObserver(br),
		live.WithMetrics(s.metrics),
		live.WithLogger(log),
	)
	br.OnControl(sess.SetMuted, func() { go sess.Close() })

	if err := s.sessions.Start(ctx, key, sess); err != nil {
		if errors.Is(err, live.ErrSessionActive) {
			_ = br.SendError(msgSessionActive)
			return nil
		}
		// The observer already carried the failure status to the browser.
		log.Info("live: session did not start", "err", err)
		return nil
	}

	select {
	case <-sess.Done():
	case <-ctx.Done():
		_ = sess.Close()
	}
	if err := sess.Err(); err != nil {
		log.Info("live: session ended with error", "err", err)
	}
	return nil
}
