package leg

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-callbridge/internal/log"
)

type frame struct {
	kind int
	data []byte
}

// fakeWS is a scripted WebSocket. Frames pushed on in are returned by
// ReadMessage; closing in simulates a clean close from the peer.
type fakeWS struct {
	in   chan frame
	gate chan struct{}

	mu      sync.Mutex
	written []frame

	closed    chan struct{}
	closeOnce sync.Once
	readErr   error
}

func newFakeWS() *fakeWS {
	gate := make(chan struct{})
	close(gate)
	return &fakeWS{
		in:     make(chan frame, 16),
		gate:   gate,
		closed: make(chan struct{}),
	}
}

func (f *fakeWS) ReadMessage() (int, []byte, error) {
	select {
	case fr, ok := <-f.in:
		if !ok {
			if f.readErr != nil {
				return 0, nil, f.readErr
			}
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return fr.kind, fr.data, nil
	case <-f.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (f *fakeWS) WriteMessage(kind int, data []byte) error {
	<-f.gate
	select {
	case <-f.closed:
		return errors.New("use of closed network connection")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, frame{kind, data})
	return nil
}

func (f *fakeWS) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWS) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeWS) frames() []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]frame(nil), f.written...)
}

type recorder struct {
	ch chan Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 64)}
}

func (r *recorder) sink(ev Event) {
	r.ch <- ev
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for leg event")
		return Event{}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestConnDeliversEventsInOrder(t *testing.T) {
	ws := newFakeWS()
	rec := newRecorder()
	c := NewConn(RoleRecognition, ws, rec.sink, WithLogger(log.Discard()))

	if c.State() != StateConnecting {
		t.Fatalf("initial state = %v", c.State())
	}

	ws.in <- frame{websocket.TextMessage, []byte("one")}
	ws.in <- frame{websocket.BinaryMessage, []byte{2}}
	ws.in <- frame{websocket.PingMessage, nil}
	ws.in <- frame{websocket.TextMessage, []byte("three")}
	close(ws.in)

	c.Run()

	open := rec.next(t)
	if open.Kind != EventOpen || open.Leg != Leg(c) {
		t.Fatalf("first event = %v, want open carrying the leg", open.Kind)
	}

	first := rec.next(t)
	if first.Kind != EventMessage || string(first.Data) != "one" || first.Binary {
		t.Errorf("first message = %+v", first)
	}
	second := rec.next(t)
	if !second.Binary || len(second.Data) != 1 {
		t.Errorf("second message = %+v", second)
	}
	third := rec.next(t)
	if string(third.Data) != "three" {
		t.Errorf("control frames must be skipped, got %+v", third)
	}

	closeEv := rec.next(t)
	if closeEv.Kind != EventClose {
		t.Fatalf("terminal event = %v, want close", closeEv.Kind)
	}
	if c.State() != StateClosed {
		t.Errorf("state = %v, want closed", c.State())
	}

	select {
	case ev := <-rec.ch:
		t.Errorf("unexpected event after close: %v", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnReadFailure(t *testing.T) {
	ws := newFakeWS()
	ws.readErr = errors.New("connection reset by peer")
	close(ws.in)

	rec := newRecorder()
	c := NewConn(RoleDialogue, ws, rec.sink, WithLogger(log.Discard()))
	c.Run()

	if ev := rec.next(t); ev.Kind != EventOpen {
		t.Fatalf("first event = %v", ev.Kind)
	}
	ev := rec.next(t)
	if ev.Kind != EventError || ev.Err == nil {
		t.Fatalf("terminal event = %+v, want error", ev)
	}
	if c.State() != StateFailed {
		t.Errorf("state = %v, want failed", c.State())
	}
	if err := c.SendText([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("send on failed leg = %v, want ErrClosed", err)
	}
}

func TestConnCloseFlushesQueue(t *testing.T) {
	ws := newFakeWS()
	rec := newRecorder()
	c := NewConn(RoleTelephony, ws, rec.sink, WithLogger(log.Discard()))
	c.Run()
	rec.next(t)

	if err := c.SendText([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := c.SendJSON(map[string]string{"k": "v"}); err != nil {
		t.Fatal(err)
	}
	if err := c.SendBinary([]byte{9}); err != nil {
		t.Fatal(err)
	}

	c.Close()
	c.Close()

	ev := rec.next(t)
	if ev.Kind != EventClose || ev.Err != nil {
		t.Fatalf("terminal event = %+v, want clean close", ev)
	}

	waitFor(t, func() bool {
		fs := ws.frames()
		return len(fs) > 0 && fs[len(fs)-1].kind == websocket.CloseMessage
	})

	fs := ws.frames()
	if len(fs) != 4 {
		t.Fatalf("wrote %d frames, want 3 data frames and a close frame", len(fs))
	}
	if string(fs[0].data) != "a" || string(fs[1].data) != `{"k":"v"}` || fs[2].kind != websocket.BinaryMessage {
		t.Errorf("frames out of order: %+v", fs)
	}

	if err := c.SendText([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close = %v, want ErrClosed", err)
	}
}

func TestConnBackpressure(t *testing.T) {
	ws := newFakeWS()
	gate := make(chan struct{})
	ws.gate = gate

	c := NewConn(RoleTelephony, ws, nil, WithLogger(log.Discard()), WithQueueSize(1))
	c.Start()

	var rejected int
	for i := 0; i < 3; i++ {
		err := c.SendBinary([]byte{byte(i)})
		if errors.Is(err, ErrBackpressure) {
			rejected++
		} else if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if rejected == 0 {
		t.Error("expected at least one ErrBackpressure with a stalled writer")
	}
	if _, _, dropped := c.Stats(); dropped != uint64(rejected) {
		t.Errorf("dropped = %d, want %d", dropped, rejected)
	}

	close(gate)
	c.Close()
}

func TestSendBeforeStart(t *testing.T) {
	c := NewConn(RoleTelephony, newFakeWS(), nil, WithLogger(log.Discard()))
	if err := c.SendText([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("send before start = %v, want ErrClosed", err)
	}
}

func TestCloseBeforeStart(t *testing.T) {
	ws := newFakeWS()
	rec := newRecorder()
	c := NewConn(RoleTelephony, ws, rec.sink, WithLogger(log.Discard()))
	c.Close()
	c.Start()

	select {
	case ev := <-rec.ch:
		t.Errorf("closed leg must not emit open, got %v", ev.Kind)
	case <-time.After(20 * time.Millisecond):
	}
	select {
	case <-ws.closed:
	default:
		t.Error("underlying connection not closed")
	}
}
