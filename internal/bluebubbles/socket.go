package bluebubbles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bluebridge/internal/bus"
	"bluebridge/internal/domain"
	"bluebridge/internal/metrics"
)

const (
	handshakeTimeout = 15 * time.Second
	writeTimeout     = 10 * time.Second
)

var (
	errSocketClosed = errors.New("event stream closed")
	errStarted      = errors.New("event stream already started")
)

// socket keeps one Socket.IO v4 connection open over a raw websocket and
// publishes decoded events into the dispatcher.
type socket struct {
	serverURL string
	password  string
	dialer    *websocket.Dialer
	delay     time.Duration
	events    *bus.Dispatcher
	logger    *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type session struct {
	conn *websocket.Conn
	open openPayload
}

func (s *socket) start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSocketClosed
	}
	if s.started {
		s.mu.Unlock()
		return errStarted
	}
	s.mu.Unlock()

	sess, err := s.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		sess.conn.Close()
		return errSocketClosed
	}
	s.started = true
	s.conn = sess.conn
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	metrics.Connected.Set(1)
	s.logger.Info("bluebubbles event stream connected", "sid", sess.open.SID)

	go s.events.Run(runCtx)
	go s.loop(runCtx, sess)
	return nil
}

func (s *socket) stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn, cancel, done := s.conn, s.cancel, s.done
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		s.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(pktSocketDisconnect))
		s.writeMu.Unlock()
		err = conn.Close()
	}
	if done != nil {
		<-done
	}
	metrics.Connected.Set(0)
	return err
}

// loop reads until the connection drops, then redials every delay until it
// succeeds or ctx is cancelled.
func (s *socket) loop(ctx context.Context, sess session) {
	defer close(s.done)

	for {
		err := s.read(ctx, sess)
		sess.conn.Close()
		if ctx.Err() != nil {
			return
		}
		metrics.Connected.Set(0)
		s.logger.Warn("bluebubbles event stream lost, reconnecting", "delay", s.delay, "err", err)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.delay):
			}
			next, err := s.dial(ctx)
			if err == nil {
				sess = next
				break
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("bluebubbles reconnect failed", "delay", s.delay, "err", err)
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			sess.conn.Close()
			return
		}
		s.conn = sess.conn
		s.mu.Unlock()

		metrics.Connected.Set(1)
		s.logger.Info("bluebubbles event stream reconnected", "sid", sess.open.SID)
	}
}

// dial opens the websocket and completes the Engine.IO and Socket.IO
// handshakes.
func (s *socket) dial(ctx context.Context) (session, error) {
	endpoint, err := socketURL(s.serverURL, s.password)
	if err != nil {
		return session{}, err
	}

	conn, resp, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return session{}, fmt.Errorf("dial event stream: HTTP %d: %w", resp.StatusCode, err)
		}
		return session{}, fmt.Errorf("dial event stream: %w", err)
	}

	// The handshake reads are not context aware; closing the conn unblocks them.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sess, err := s.handshake(conn)
	if err != nil {
		conn.Close()
		return session{}, err
	}
	return sess, nil
}

func (s *socket) handshake(conn *websocket.Conn) (session, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	_, data, err := conn.ReadMessage()
	if err != nil {
		return session{}, fmt.Errorf("read engine.io open: %w", err)
	}
	open, err := parseOpen(string(data))
	if err != nil {
		return session{}, err
	}

	if err := s.write(conn, pktSocketConnect); err != nil {
		return session{}, fmt.Errorf("socket.io connect: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return session{}, fmt.Errorf("await socket.io connect: %w", err)
		}
		frame := string(data)
		switch {
		case frame == "":
			continue
		case frame[0] == eioPing:
			if err := s.write(conn, string(eioPong)+frame[1:]); err != nil {
				return session{}, err
			}
		case len(frame) >= 2 && frame[0] == eioMessage && frame[1] == sioConnect:
			_ = conn.SetReadDeadline(time.Time{})
			return session{conn: conn, open: open}, nil
		case len(frame) >= 2 && frame[0] == eioMessage && frame[1] == sioConnectError:
			return session{}, fmt.Errorf("socket.io connect rejected: %s", truncate(frame[2:], 200))
		}
	}
}

// read processes frames until the connection fails. The read deadline is
// pushed forward on every frame, so a server that stops pinging is detected.
func (s *socket) read(ctx context.Context, sess session) error {
	conn := sess.conn
	timeout := sess.open.readTimeout()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage || len(data) == 0 {
			continue
		}

		frame := string(data)
		switch frame[0] {
		case eioPing:
			if err := s.write(conn, string(eioPong)+frame[1:]); err != nil {
				return err
			}
		case eioClose:
			return errors.New("server closed the engine.io session")
		case eioMessage:
			if err := s.handleMessage(frame[1:]); err != nil {
				return err
			}
		case eioPong, eioNoop, eioUpgrade, eioOpen:
		default:
			s.logger.Debug("unknown engine.io packet", "packet", truncate(frame, 32))
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// handleMessage processes a Socket.IO packet. It returns an error only when
// the server ends the Socket.IO session.
func (s *socket) handleMessage(packet string) error {
	if packet == "" {
		return nil
	}
	switch packet[0] {
	case sioEvent:
		ev, err := parseEvent(packet[1:])
		if err != nil {
			s.logger.Warn("undecodable socket.io event", "err", err)
			return nil
		}
		if out, ok := s.decode(ev); ok {
			s.events.Publish(out)
		}
	case sioDisconnect:
		return errors.New("server disconnected the socket.io session")
	case sioConnectError:
		return fmt.Errorf("socket.io error: %s", truncate(packet[1:], 200))
	case sioConnect, sioAck:
	}
	return nil
}

// decode maps a Socket.IO event onto a domain.Event. Unknown events are
// published without a payload.
func (s *socket) decode(ev socketEvent) (domain.Event, bool) {
	out := domain.Event{Name: ev.Name, ReceivedAt: time.Now()}
	if len(ev.Args) == 0 {
		return out, true
	}

	switch ev.Name {
	case domain.EventNewMessage, domain.EventUpdatedMessage:
		var msg domain.InboundMessage
		if err := json.Unmarshal(ev.Args[0], &msg); err != nil {
			s.logger.Warn("undecodable message event", "event", ev.Name, "err", err)
			return out, false
		}
		out.Message = &msg
	case domain.EventTypingIndicator:
		var typing domain.TypingNotification
		if err := json.Unmarshal(ev.Args[0], &typing); err != nil {
			s.logger.Warn("undecodable typing event", "err", err)
			return out, false
		}
		out.Typing = &typing
	}
	return out, true
}

func (s *socket) write(conn *websocket.Conn, frame string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(frame))
}
