package bluebubbles

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Engine.IO v4 packet types, the first byte of every websocket frame.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioUpgrade = '5'
	eioNoop    = '6'
)

// Socket.IO v4 packet types, the byte after an Engine.IO message type.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioAck          = '3'
	sioConnectError = '4'
)

const (
	pktSocketConnect    = "40"
	pktSocketDisconnect = "41"
)

var errEmptyPacket = errors.New("empty packet")

// openPayload is the Engine.IO handshake body.
type openPayload struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"` // ms
	PingTimeout  int    `json:"pingTimeout"`  // ms
	MaxPayload   int    `json:"maxPayload"`
}

// readTimeout is how long the server may stay silent before the connection
// is considered dead.
func (o openPayload) readTimeout() time.Duration {
	interval, timeout := o.PingInterval, o.PingTimeout
	if interval <= 0 {
		interval = 25000
	}
	if timeout <= 0 {
		timeout = 20000
	}
	return time.Duration(interval+timeout) * time.Millisecond
}

func parseOpen(frame string) (openPayload, error) {
	var o openPayload
	if frame == "" || frame[0] != eioOpen {
		return o, fmt.Errorf("expected engine.io open packet, got %q", truncate(frame, 32))
	}
	if err := json.Unmarshal([]byte(frame[1:]), &o); err != nil {
		return o, fmt.Errorf("decode engine.io open: %w", err)
	}
	return o, nil
}

// socketEvent is a decoded Socket.IO EVENT packet.
type socketEvent struct {
	Name string
	Args []json.RawMessage
}

// parseEvent decodes the part of a frame after "42": an optional namespace
// ("/nsp,"), an optional ack id, then a JSON array whose first element is the
// event name.
func parseEvent(body string) (socketEvent, error) {
	if strings.HasPrefix(body, "/") {
		i := strings.IndexByte(body, ',')
		if i < 0 {
			return socketEvent{}, fmt.Errorf("malformed namespace in %q", truncate(body, 32))
		}
		body = body[i+1:]
	}
	i := 0
	for i < len(body) && body[i] >= '0' && body[i] <= '9' {
		i++
	}
	body = body[i:]

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return socketEvent{}, fmt.Errorf("decode socket.io event: %w", err)
	}
	if len(raw) == 0 {
		return socketEvent{}, errEmptyPacket
	}
	var name string
	if err := json.Unmarshal(raw[0], &name); err != nil {
		return socketEvent{}, fmt.Errorf("decode event name: %w", err)
	}
	return socketEvent{Name: name, Args: raw[1:]}, nil
}

// socketURL turns the server's http(s) address into the Socket.IO websocket
// endpoint.
func socketURL(serverURL, password string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket.io/"
	q := url.Values{}
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	q.Set("password", password)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
