package websocket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"somnoalert/internal/logger"
	"somnoalert/internal/services/stats"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	id     string
	fail   bool
	mu     sync.Mutex
	got    [][]byte
	closed bool
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.got = append(f.got, msg)
	return nil
}

func (f *fakeSubscriber) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestBroadcastDropsFailingSubscriber(t *testing.T) {
	metrics := stats.NewMetrics()
	hub := NewHubService(logger.NewDiscard(), metrics)
	a := &fakeSubscriber{id: "a"}
	b := &fakeSubscriber{id: "b", fail: true}
	c := &fakeSubscriber{id: "c"}
	for _, s := range []*fakeSubscriber{a, b, c} {
		require.NoError(t, hub.Register(s))
	}
	require.Equal(t, 3, hub.Count())

	delivered := hub.Broadcast([]byte(`{"type":"metrics"}`))
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 2, hub.Count())
	assert.Len(t, a.got, 1)
	assert.Len(t, c.got, 1)
	assert.True(t, b.closed)
	assert.Equal(t, int64(1), metrics.GetDropped())

	assert.Equal(t, 2, hub.Broadcast([]byte(`{}`)))
	assert.Len(t, a.got, 2)
}

func TestUnregisterAndClose(t *testing.T) {
	hub := NewHubService(logger.NewDiscard(), nil)
	a := &fakeSubscriber{id: "a"}
	b := &fakeSubscriber{id: "b"}
	require.NoError(t, hub.Register(a))
	require.NoError(t, hub.Register(b))

	hub.Unregister(a)
	hub.Unregister(a)
	assert.True(t, a.closed)
	assert.Equal(t, 1, hub.Count())

	hub.Close()
	assert.True(t, b.closed)
	assert.Equal(t, 0, hub.Count())
	assert.ErrorIs(t, hub.Register(&fakeSubscriber{id: "late"}), ErrHubClosed)
	assert.Equal(t, 0, hub.Broadcast([]byte("x")))
}

func TestBroadcastConcurrentWithRegistration(t *testing.T) {
	hub := NewHubService(logger.NewDiscard(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s := &fakeSubscriber{id: string(rune('a' + i))}
			hub.Register(s)
		}(i)
		go func() {
			defer wg.Done()
			hub.Broadcast([]byte("tick"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, hub.Count())
}

func TestConnSubscriber(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err == nil {
			received <- string(msg)
		}
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	sub := NewConnSubscriber(conn, time.Second)
	other := NewConnSubscriber(conn, time.Second)
	assert.NotEqual(t, sub.ID(), other.ID())

	require.NoError(t, sub.Send([]byte(`{"type":"metrics"}`)))
	select {
	case msg := <-received:
		assert.Equal(t, `{"type":"metrics"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	require.NoError(t, sub.Close())
	assert.Error(t, sub.Send([]byte("after close")))
}
