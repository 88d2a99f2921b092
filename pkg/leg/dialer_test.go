package leg

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-callbridge/internal/log"
)

func echoServer(t *testing.T, gotAuth chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/denied" {
			http.Error(w, "no", http.StatusUnauthorized)
			return
		}
		gotAuth <- r.Header.Get("Authorization")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			kind, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(kind, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestDialerRoundTrip(t *testing.T) {
	auth := make(chan string, 1)
	srv := echoServer(t, auth)

	d := NewDialer(map[Role]Endpoint{
		RoleRecognition: {URL: wsURL(srv, "/listen"), Header: TokenHeader("secret")},
	}, WithLogger(log.Discard()))

	rec := newRecorder()
	l, err := d.Dial(context.Background(), RoleRecognition, rec.sink)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer l.Close()

	select {
	case got := <-auth:
		if got != "Token secret" {
			t.Errorf("Authorization = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the handshake")
	}

	if ev := rec.next(t); ev.Kind != EventOpen || ev.Role != RoleRecognition {
		t.Fatalf("first event = %+v", ev)
	}

	if err := l.SendBinary([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	ev := rec.next(t)
	if ev.Kind != EventMessage || !ev.Binary || len(ev.Data) != 3 {
		t.Errorf("echo = %+v", ev)
	}

	l.Close()
	if ev := rec.next(t); ev.Kind != EventClose {
		t.Errorf("terminal event = %v, want close", ev.Kind)
	}
}

func TestDialerErrors(t *testing.T) {
	srv := echoServer(t, make(chan string, 1))

	d := NewDialer(map[Role]Endpoint{
		RoleDialogue: {URL: wsURL(srv, "/denied"), Header: BearerHeader("tok")},
	})

	_, err := d.Dial(context.Background(), RoleRecognition, nil)
	var de *DialError
	if !errors.As(err, &de) || !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("missing endpoint: %v", err)
	}

	_, err = d.Dial(context.Background(), RoleDialogue, nil)
	if !errors.As(err, &de) {
		t.Fatalf("expected *DialError, got %v", err)
	}
	if de.StatusCode != http.StatusUnauthorized || de.Role != RoleDialogue {
		t.Errorf("DialError = %+v", de)
	}
}

func TestHeaders(t *testing.T) {
	h := BearerHeader("abc")
	if h.Get("Authorization") != "Bearer abc" || h.Get("OpenAI-Beta") != "realtime=v1" {
		t.Errorf("bearer header = %v", h)
	}
	if TokenHeader("").Get("Authorization") != "" {
		t.Error("empty key must not set Authorization")
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole("dialogue"); err != nil || r != RoleDialogue {
		t.Errorf("ParseRole(dialogue) = %v, %v", r, err)
	}
	if _, err := ParseRole("fax"); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("ParseRole(fax) = %v", err)
	}
}
