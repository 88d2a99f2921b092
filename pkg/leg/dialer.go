package leg

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-callbridge/internal/log"
)

// DefaultHandshakeTimeout bounds the WebSocket opening handshake.
const DefaultHandshakeTimeout = 10 * time.Second

// Endpoint is the address and handshake headers of an outbound leg.
type Endpoint struct {
	URL    string
	Header http.Header
}

// TokenHeader builds the "Token <key>" authorization used by the recognition service.
func TokenHeader(apiKey string) http.Header {
	h := http.Header{}
	if apiKey != "" {
		h.Set("Authorization", "Token "+apiKey)
	}
	return h
}

// BearerHeader builds the bearer authorization used by the realtime dialogue service.
func BearerHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	h.Set("OpenAI-Beta", "realtime=v1")
	return h
}

// WSDialer opens outbound legs with gorilla/websocket.
type WSDialer struct {
	endpoints map[Role]Endpoint
	dialer    websocket.Dialer
	opts      []Option
	logger    *slog.Logger
}

// NewDialer creates a dialer for the given endpoints. opts are applied to every
// Conn it opens.
func NewDialer(endpoints map[Role]Endpoint, opts ...Option) *WSDialer {
	return &WSDialer{
		endpoints: endpoints,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultHandshakeTimeout,
		},
		opts:   opts,
		logger: log.Component("dialer"),
	}
}

// Dial opens the leg for role. On success the returned leg has already emitted
// EventOpen to sink and is reading in the background. On failure no event is
// emitted and the error is a *DialError.
func (d *WSDialer) Dial(ctx context.Context, role Role, sink Sink) (Leg, error) {
	ep, ok := d.endpoints[role]
	if !ok || ep.URL == "" {
		return nil, &DialError{Role: role, Cause: ErrNoEndpoint}
	}

	d.logger.Debug("dialing leg", "role", string(role), "url", ep.URL)

	ws, resp, err := d.dialer.DialContext(ctx, ep.URL, ep.Header)
	if err != nil {
		de := &DialError{Role: role, Cause: err}
		if resp != nil {
			de.StatusCode = resp.StatusCode
		}
		return nil, de
	}

	c := NewConn(role, ws, sink, d.opts...)
	c.Run()

	d.logger.Info("leg connected", "role", string(role))
	return c, nil
}
