// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions. Use
// Session to push server events and inspect which audio chunks the controller
// sent.
//
// Example:
//
//	sess := mock.NewSession(8)
//	p := &mock.Provider{Session: sess}
//	s, _ := p.Connect(ctx, cfg)
//	sess.Push(live.ServerEvent{Audio: chunk})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/tutorlive/pkg/provider/live"
)

// Compile-time interface assertions.
var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*Session)(nil)
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a new Session
	// with a small event buffer.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession(8)
	}
	return p.Session, nil
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Session is a mock implementation of live.Session.
type Session struct {
	mu         sync.Mutex
	events     chan live.ServerEvent
	sent       [][]byte
	ended      bool
	err        error
	closeCalls int

	// SendErr, if non-nil, is returned by SendAudio.
	SendErr error

	// Sent is signalled (non-blocking) after every SendAudio call.
	Sent chan struct{}

	// SendDelay, if positive, is slept at the start of every SendAudio call
	// to emulate a slow uplink. Set it before the session is used.
	SendDelay time.Duration
}

// NewSession returns a Session whose event channel holds buffer events.
func NewSession(buffer int) *Session {
	return &Session{
		events: make(chan live.ServerEvent, buffer),
		Sent:   make(chan struct{}, 64),
	}
}

// SendAudio records a copy of chunk.
func (s *Session) SendAudio(chunk []byte) error {
	if s.SendDelay > 0 {
		time.Sleep(s.SendDelay)
	}
	s.mu.Lock()
	if s.SendErr != nil {
		err := s.SendErr
		s.mu.Unlock()
		return err
	}
	if s.ended {
		s.mu.Unlock()
		return live.ErrSessionClosed
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.sent = append(s.sent, cp)
	s.mu.Unlock()

	select {
	case s.Sent <- struct{}{}:
	default:
	}
	return nil
}

// Events returns the server event channel.
func (s *Session) Events() <-chan live.ServerEvent { return s.events }

// Err returns the error passed to End, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Push delivers ev to the consumer. It is a no-op after the session ended.
func (s *Session) Push(ev live.ServerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- ev
}

// End simulates the remote side closing the connection. err is reported by
// Err; nil means a clean close.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.events)
}

// Close ends the session cleanly and counts the call.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	s.End(nil)
	return nil
}

// SentChunks returns a copy of every chunk passed to SendAudio.
func (s *Session) SentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// CloseCalls returns how many times Close was called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
