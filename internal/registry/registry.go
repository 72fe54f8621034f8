// Package registry tracks which users are connected to which sandbox.
// It is the authority for duplicate-login rejection, stale-binding
// eviction and roster broadcasts.
package registry

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"tabletop-backend/internal/hub"
	"tabletop-backend/internal/model"
)

// ErrAlreadyConnected is returned by Join when the user already has a
// live connection in the same sandbox.
var ErrAlreadyConnected = errors.New("user is already connected to this sandbox")

// Transport is the slice of the hub the registry uses.
type Transport interface {
	JoinRoom(roomID string, conn hub.Conn)
	LeaveRoom(roomID string, conn hub.Conn)
	BroadcastToRoom(roomID, event string, payload any, exclude hub.Conn)
	SendTo(conn hub.Conn, event string, payload any) error
	IsAlive(conn hub.Conn) bool
}

// Mirror receives roster snapshots for external visibility. Optional;
// the registry works with a nil mirror.
type Mirror interface {
	PublishRoster(ctx context.Context, sandboxID string, roster []Member) error
	ClearRoster(ctx context.Context, sandboxID string) error
}

// Member is one roster entry.
type Member struct {
	UserID   string     `json:"userId"`
	Name     string     `json:"name"`
	Role     model.Role `json:"role"`
	JoinedAt time.Time  `json:"joinedAt"`
}

type binding struct {
	member Member
	conn   hub.Conn
}

// entry serializes all membership mutation for one sandbox. Sandboxes
// never block each other.
type entry struct {
	mu      sync.Mutex
	members map[string]*binding
	gone    bool
}

// Registry is the in-memory session table.
type Registry struct {
	mu        sync.Mutex
	sandboxes map[string]*entry
	conns     map[hub.Conn]connKey
	transport Transport
	mirror    Mirror
}

type connKey struct {
	sandboxID string
	userID    string
}

// New creates a Registry. mirror may be nil.
func New(transport Transport, mirror Mirror) *Registry {
	return &Registry{
		sandboxes: make(map[string]*entry),
		conns:     make(map[hub.Conn]connKey),
		transport: transport,
		mirror:    mirror,
	}
}

func (r *Registry) entryFor(sandboxID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.sandboxes[sandboxID]
	if e == nil {
		e = &entry{members: make(map[string]*binding)}
		r.sandboxes[sandboxID] = e
	}
	return e
}

// Join registers a connection for a user. If the user already holds a
// binding, the old connection is probed: a live one rejects the join,
// a dead one is evicted and replaced. On success the new member gets
// the full roster and everyone else gets a user-joined notice.
func (r *Registry) Join(sandboxID string, m Member, conn hub.Conn) ([]Member, error) {
	for {
		e := r.entryFor(sandboxID)
		e.mu.Lock()
		if e.gone {
			// Lost a race with pruning; the map entry was removed.
			e.mu.Unlock()
			continue
		}

		if old := e.members[m.UserID]; old != nil {
			if r.transport.IsAlive(old.conn) {
				e.mu.Unlock()
				return nil, ErrAlreadyConnected
			}
			// Stale binding left by an unclean disconnect. Evict it.
			log.Printf("[Registry] Evicting stale connection for user %s in sandbox %s", m.UserID, sandboxID)
			r.drop(sandboxID, old.conn)
			old.conn.Close()
			delete(e.members, m.UserID)
		}

		m.JoinedAt = time.Now()
		e.members[m.UserID] = &binding{member: m, conn: conn}

		r.mu.Lock()
		r.conns[conn] = connKey{sandboxID: sandboxID, userID: m.UserID}
		r.mu.Unlock()

		r.transport.JoinRoom(sandboxID, conn)

		// Broadcast before releasing e.mu so roster snapshots go out in
		// the order they were taken; a concurrent join or leave cannot
		// slip an older roster after a newer one.
		roster := e.rosterLocked()
		r.transport.BroadcastToRoom(sandboxID, model.EventRoster, roster, nil)
		r.transport.BroadcastToRoom(sandboxID, model.EventUserJoined, m, conn)
		r.publishMirror(sandboxID, roster)
		e.mu.Unlock()
		return roster, nil
	}
}

// Leave removes the binding for a connection. Unknown connections are
// ignored so disconnect paths can call it unconditionally.
func (r *Registry) Leave(conn hub.Conn) {
	r.mu.Lock()
	key, ok := r.conns[conn]
	if ok {
		delete(r.conns, conn)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	e := r.entryFor(key.sandboxID)
	e.mu.Lock()
	b := e.members[key.userID]
	if b == nil || b.conn != conn {
		// The binding was already replaced by a re-login.
		e.mu.Unlock()
		r.transport.LeaveRoom(key.sandboxID, conn)
		return
	}
	delete(e.members, key.userID)
	member := b.member

	if len(e.members) == 0 {
		e.gone = true
		r.mu.Lock()
		if r.sandboxes[key.sandboxID] == e {
			delete(r.sandboxes, key.sandboxID)
		}
		r.mu.Unlock()
		e.mu.Unlock()

		r.transport.LeaveRoom(key.sandboxID, conn)
		r.clearMirror(key.sandboxID)
		return
	}

	// Same as Join: broadcast under e.mu so rosters arrive in snapshot
	// order.
	roster := e.rosterLocked()
	r.transport.LeaveRoom(key.sandboxID, conn)
	r.transport.BroadcastToRoom(key.sandboxID, model.EventRoster, roster, nil)
	r.transport.BroadcastToRoom(key.sandboxID, model.EventUserLeft, member, nil)
	r.publishMirror(key.sandboxID, roster)
	e.mu.Unlock()
}

// drop removes a connection from the conn index without touching the
// sandbox entry. Caller holds e.mu.
func (r *Registry) drop(sandboxID string, conn hub.Conn) {
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()
	r.transport.LeaveRoom(sandboxID, conn)
}

// RequestRoster sends the current roster to one connection.
func (r *Registry) RequestRoster(conn hub.Conn) {
	r.mu.Lock()
	key, ok := r.conns[conn]
	r.mu.Unlock()
	if !ok {
		return
	}

	e := r.entryFor(key.sandboxID)
	e.mu.Lock()
	roster := e.rosterLocked()
	e.mu.Unlock()

	if err := r.transport.SendTo(conn, model.EventRoster, roster); err != nil {
		log.Printf("[Registry] Failed to send roster to user %s: %v", key.userID, err)
	}
}

// Roster returns the current members of a sandbox.
func (r *Registry) Roster(sandboxID string) []Member {
	r.mu.Lock()
	e := r.sandboxes[sandboxID]
	r.mu.Unlock()
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rosterLocked()
}

// Connection returns the live connection for a user, or nil.
func (r *Registry) Connection(sandboxID, userID string) hub.Conn {
	r.mu.Lock()
	e := r.sandboxes[sandboxID]
	r.mu.Unlock()
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b := e.members[userID]; b != nil {
		return b.conn
	}
	return nil
}

// ResolveGMConnections returns the connections of every GM currently in
// the sandbox.
func (r *Registry) ResolveGMConnections(sandboxID string) []hub.Conn {
	r.mu.Lock()
	e := r.sandboxes[sandboxID]
	r.mu.Unlock()
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var conns []hub.Conn
	for _, b := range e.members {
		if b.member.Role == model.RoleGM {
			conns = append(conns, b.conn)
		}
	}
	return conns
}

func (e *entry) rosterLocked() []Member {
	roster := make([]Member, 0, len(e.members))
	for _, b := range e.members {
		roster = append(roster, b.member)
	}
	return roster
}

func (r *Registry) publishMirror(sandboxID string, roster []Member) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.mirror.PublishRoster(ctx, sandboxID, roster); err != nil {
		log.Printf("[Registry] Failed to publish roster for sandbox %s: %v", sandboxID, err)
	}
}

func (r *Registry) clearMirror(sandboxID string) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.mirror.ClearRoster(ctx, sandboxID); err != nil {
		log.Printf("[Registry] Failed to clear roster for sandbox %s: %v", sandboxID, err)
	}
}
