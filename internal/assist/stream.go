package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Stream is one live bidirectional envelope connection.
type Stream interface {
	// Send writes an envelope. Safe for concurrent use.
	Send(env Envelope) error

	// Receive yields inbound envelopes until the connection dies; the
	// channel is then closed.
	Receive() <-chan Envelope

	// Err reports why Receive closed, nil for a clean shutdown.
	Err() error

	Close() error
}

// Dialer opens streams to the conversational endpoint.
type Dialer interface {
	Dial(ctx context.Context, sessionID string) (Stream, error)
}

// WebsocketDialer connects over a websocket, attaching a bearer token
// when configured.
type WebsocketDialer struct {
	URL   string
	Token string

	// HandshakeTimeout bounds the dial; zero means 10s.
	HandshakeTimeout time.Duration
}

func (d *WebsocketDialer) Dial(ctx context.Context, sessionID string) (Stream, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	header := map[string][]string{}
	if d.Token != "" {
		header["Authorization"] = []string{"Bearer " + d.Token}
	}
	header["X-Session-Id"] = []string{sessionID}

	conn, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial conversational endpoint: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial conversational endpoint: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	s := &wsStream{
		conn:    conn,
		inbound: make(chan Envelope, 16),
		quit:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type wsStream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex // gorilla allows one concurrent writer

	inbound chan Envelope
	quit    chan struct{}

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

func (s *wsStream) Send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

func (s *wsStream) Receive() <-chan Envelope { return s.inbound }

func (s *wsStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.quit)
		s.writeMu.Lock()
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *wsStream) readLoop() {
	defer close(s.inbound)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.setErr(err)
			}
			return
		}
		env, err := ParseEnvelope(data)
		if err != nil {
			// Skip malformed frames; one bad message should not kill the
			// conversation.
			continue
		}
		select {
		case s.inbound <- env:
		case <-s.quit:
			// Nobody is draining inbound anymore; don't block forever on
			// a backlog the dead session will never read.
			return
		}
	}
}

func (s *wsStream) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}
