package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "client channel closed")
		var ev Event
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishReachesClients(t *testing.T) {
	h := startHub(t)

	a := &Client{hub: h, send: make(chan []byte, 8)}
	b := &Client{hub: h, send: make(chan []byte, 8)}
	require.True(t, h.attach(a))
	require.True(t, h.attach(b))
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	h.Publish("call_1234abcd", TypeUser, "hola")

	for _, c := range []*Client{a, b} {
		ev := receive(t, c)
		assert.Equal(t, "call_1234abcd", ev.SessionID)
		assert.Equal(t, TypeUser, ev.Type)
		assert.Equal(t, "hola", ev.Message)
		assert.False(t, ev.Time.IsZero())
	}

	h.detach(a)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestNewClientGetsHistory(t *testing.T) {
	h := startHub(t)

	h.Publish("call_1", TypeLifecycle, "active")
	h.Publish("call_1", TypeBot, "buenos días")
	require.Eventually(t, func() bool { return len(h.History()) == 2 }, time.Second, 5*time.Millisecond)

	c := &Client{hub: h, send: make(chan []byte, 8)}
	require.True(t, h.attach(c))

	assert.Equal(t, "active", receive(t, c).Message)
	assert.Equal(t, "buenos días", receive(t, c).Message)
}

func TestSlowClientIsDropped(t *testing.T) {
	h := startHub(t)

	slow := &Client{hub: h, send: make(chan []byte, 1)}
	require.True(t, h.attach(slow))

	h.Publish("call_1", TypeUser, "uno")
	h.Publish("call_1", TypeUser, "dos")

	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	<-slow.send
	_, ok := <-slow.send
	assert.False(t, ok, "dropped client's channel must be closed")
}

func TestAttachAfterStop(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	assert.False(t, h.attach(&Client{hub: h, send: make(chan []byte, 1)}))
}

func TestHistoryIsBounded(t *testing.T) {
	h := New()
	for i := 0; i < historySize+10; i++ {
		h.record(Event{Message: string(rune('a' + i%26))})
	}
	assert.Len(t, h.History(), historySize)
}

func TestEventsRoute(t *testing.T) {
	h := startHub(t)
	h.Publish("call_1", TypeTool, "sent")
	require.Eventually(t, func() bool { return len(h.History()) == 1 }, time.Second, 5*time.Millisecond)

	app := fiber.New()
	h.RegisterRoutes(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/events", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	var out struct {
		Events []Event `json:"events"`
		Count  int     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, TypeTool, out.Events[0].Type)

	resp, err = app.Test(httptest.NewRequest("GET", "/ws/monitor", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}
