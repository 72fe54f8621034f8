package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records everything written to it.
type fakeConn struct {
	mu          sync.Mutex
	messages    [][]byte
	failWrite   bool
	failControl bool
	closed      bool
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrite {
		return errors.New("write failed")
	}
	c.messages = append(c.messages, data)
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	if c.failControl {
		return errors.New("control write failed")
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) events(t *testing.T) []Event {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	events := make([]Event, 0, len(c.messages))
	for _, raw := range c.messages {
		var ev Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		events = append(events, ev)
	}
	return events
}

func TestBroadcastToRoom(t *testing.T) {
	h := New()
	a, b, other := &fakeConn{}, &fakeConn{}, &fakeConn{}

	h.JoinRoom("room-1", a)
	h.JoinRoom("room-1", b)
	h.JoinRoom("room-2", other)

	h.BroadcastToRoom("room-1", "test-event", map[string]string{"k": "v"}, nil)

	assert.Len(t, a.events(t), 1)
	assert.Len(t, b.events(t), 1)
	assert.Empty(t, other.events(t), "other rooms must not receive the event")
	assert.Equal(t, "test-event", a.events(t)[0].Type)
}

func TestBroadcastExcludesConnection(t *testing.T) {
	h := New()
	sender, peer := &fakeConn{}, &fakeConn{}

	h.JoinRoom("room-1", sender)
	h.JoinRoom("room-1", peer)

	h.BroadcastToRoom("room-1", "test-event", nil, sender)

	assert.Empty(t, sender.events(t))
	assert.Len(t, peer.events(t), 1)
}

func TestLeaveRoomRemovesConnection(t *testing.T) {
	h := New()
	a, b := &fakeConn{}, &fakeConn{}

	h.JoinRoom("room-1", a)
	h.JoinRoom("room-1", b)
	require.Equal(t, 2, h.RoomSize("room-1"))

	h.LeaveRoom("room-1", a)
	assert.Equal(t, 1, h.RoomSize("room-1"))

	h.BroadcastToRoom("room-1", "test-event", nil, nil)
	assert.Empty(t, a.events(t))
	assert.Len(t, b.events(t), 1)

	h.LeaveRoom("room-1", b)
	assert.Equal(t, 0, h.RoomSize("room-1"))
}

func TestSendTo(t *testing.T) {
	h := New()
	conn := &fakeConn{}
	h.JoinRoom("room-1", conn)

	require.NoError(t, h.SendTo(conn, "direct", "payload"))

	events := conn.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, "direct", events[0].Type)
	assert.Equal(t, "payload", events[0].Payload)
}

func TestSendToUnregisteredConnection(t *testing.T) {
	h := New()
	conn := &fakeConn{}

	// Not in any room yet; direct write still works.
	require.NoError(t, h.SendTo(conn, "direct", nil))
	assert.Len(t, conn.events(t), 1)
}

func TestIsAlive(t *testing.T) {
	h := New()

	assert.True(t, h.IsAlive(&fakeConn{}))
	assert.False(t, h.IsAlive(&fakeConn{failControl: true}))
	assert.False(t, h.IsAlive(nil))
}

func TestBroadcastSkipsFailedWriters(t *testing.T) {
	h := New()
	broken, ok := &fakeConn{failWrite: true}, &fakeConn{}

	h.JoinRoom("room-1", broken)
	h.JoinRoom("room-1", ok)

	// A failing connection must not prevent delivery to the rest.
	h.BroadcastToRoom("room-1", "test-event", nil, nil)
	assert.Len(t, ok.events(t), 1)
}
