// Package session tracks which live transport sessions belong to which user.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// DefaultShards is the number of independently locked user partitions.
const DefaultShards = 32

// Handle is the outbound side of one live connection.
type Handle interface {
	// Push hands a frame to the connection without blocking. It reports false
	// when the frame was not accepted because the connection is gone or was
	// closed for overflowing its buffer.
	Push(frame []byte) bool
}

// Session binds one live connection to the user that authenticated it.
type Session struct {
	ID          string
	UserID      string
	Handle      Handle
	ConnectedAt time.Time
}

// Listener observes presence transitions. Callbacks run on the goroutine that
// caused the transition, after the registry has released its locks, so a
// listener must not block for long.
type Listener interface {
	UserOnline(userID string)
	UserOffline(userID string)
}

type shard struct {
	mu    sync.RWMutex
	users map[string]map[string]*Session // userID -> sessionID -> session
}

// Registry maps users to their live sessions (1:N). Users are partitioned
// across shards by hash so that registrations for different users only contend
// when they land in the same shard, and then only for a map insert.
type Registry struct {
	shards []*shard
	index  sync.Map // sessionID -> userID
	count  atomic.Int64

	lmu       sync.RWMutex
	listeners []Listener
}

// Option configures a Registry.
type Option func(*Registry)

// WithShards sets the number of user partitions.
func WithShards(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.shards = make([]*shard, n)
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{shards: make([]*shard, DefaultShards)}
	for _, opt := range opts {
		opt(r)
	}
	for i := range r.shards {
		r.shards[i] = &shard{users: make(map[string]map[string]*Session)}
	}
	return r
}

// Subscribe adds a presence listener.
func (r *Registry) Subscribe(l Listener) {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) shardFor(userID string) *shard {
	return r.shards[xxhash.Sum64String(userID)%uint64(len(r.shards))]
}

// Register adds a session for userID and returns its id. The session becomes
// visible to Resolve fully formed or not at all.
func (r *Registry) Register(userID string, h Handle) string {
	s := &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Handle:      h,
		ConnectedAt: time.Now().UTC(),
	}

	sh := r.shardFor(userID)
	sh.mu.Lock()
	sessions, ok := sh.users[userID]
	if !ok {
		sessions = make(map[string]*Session)
		sh.users[userID] = sessions
	}
	sessions[s.ID] = s
	r.index.Store(s.ID, userID)
	first := len(sessions) == 1
	sh.mu.Unlock()

	r.count.Add(1)
	if first {
		r.notify(func(l Listener) { l.UserOnline(userID) })
	}
	return s.ID
}

// Unregister removes a session. Unknown or already removed ids are ignored.
// It reports whether a session was removed.
func (r *Registry) Unregister(sessionID string) bool {
	v, ok := r.index.LoadAndDelete(sessionID)
	if !ok {
		return false
	}
	userID := v.(string)

	sh := r.shardFor(userID)
	sh.mu.Lock()
	sessions := sh.users[userID]
	_, present := sessions[sessionID]
	delete(sessions, sessionID)
	last := present && len(sessions) == 0
	if last {
		delete(sh.users, userID)
	}
	sh.mu.Unlock()

	if !present {
		return false
	}
	r.count.Add(-1)
	if last {
		r.notify(func(l Listener) { l.UserOffline(userID) })
	}
	return true
}

// Resolve returns the handles of every live session of userID.
func (r *Registry) Resolve(userID string) []Handle {
	sessions := r.Sessions(userID)
	handles := make([]Handle, 0, len(sessions))
	for _, s := range sessions {
		handles = append(handles, s.Handle)
	}
	return handles
}

// Sessions returns a snapshot of userID's live sessions.
func (r *Registry) Sessions(userID string) []Session {
	sh := r.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	out := make([]Session, 0, len(sh.users[userID]))
	for _, s := range sh.users[userID] {
		out = append(out, *s)
	}
	return out
}

// Lookup returns the session with the given id.
func (r *Registry) Lookup(sessionID string) (Session, bool) {
	v, ok := r.index.Load(sessionID)
	if !ok {
		return Session{}, false
	}
	sh := r.shardFor(v.(string))
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.users[v.(string)][sessionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// IsOnline reports whether userID has at least one live session.
func (r *Registry) IsOnline(userID string) bool {
	sh := r.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.users[userID]) > 0
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	return int(r.count.Load())
}

// OnlineUsers returns the number of users with at least one live session.
func (r *Registry) OnlineUsers() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.users)
		sh.mu.RUnlock()
	}
	return n
}

func (r *Registry) notify(fn func(Listener)) {
	r.lmu.RLock()
	listeners := r.listeners
	r.lmu.RUnlock()
	for _, l := range listeners {
		fn(l)
	}
}
