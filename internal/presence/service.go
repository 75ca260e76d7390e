// Package presence derives online and offline transitions from the session
// registry and hands them to subscribers.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/chathub/internal/domain"
)

// OfflineDebounceDelay is the default wait before a user whose last session
// closed is reported offline. Zero reports immediately.
const OfflineDebounceDelay = 0

const (
	queueSize       = 1024
	listenerTimeout = 5 * time.Second
)

// Source is the registry view the tracker derives presence from.
type Source interface {
	IsOnline(userID string) bool
}

// Listener receives presence transitions. Calls for one tracker are made from
// a single goroutine, in transition order.
type Listener interface {
	UserOnline(ctx context.Context, userID string)
	UserOffline(ctx context.Context, userID string)
}

type transition struct {
	userID string
	online bool
}

// Tracker holds no presence of its own: each transition is re-checked against
// the registry when it is processed, so transitions that were overtaken by a
// later one are dropped instead of announced.
type Tracker struct {
	source Source
	users  domain.UserDirectory
	logger *slog.Logger

	offlineDebounceDelay time.Duration
	debounceMu           sync.Mutex
	offlineDebounce      map[string]*time.Timer // userID -> pending offline

	announced map[string]bool // worker-owned: last state sent per user

	lmu       sync.RWMutex
	listeners []Listener

	queue    chan transition
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Option is a function that configures a Tracker.
type Option func(*Tracker)

// WithOfflineDebounce delays offline reports so that a quick reconnect (page
// reload, network blip) does not produce an offline/online pair.
func WithOfflineDebounce(d time.Duration) Option {
	return func(t *Tracker) {
		t.offlineDebounceDelay = d
	}
}

// WithUserDirectory records is_online and last_seen on every reported
// transition.
func WithUserDirectory(users domain.UserDirectory) Option {
	return func(t *Tracker) {
		t.users = users
	}
}

// NewTracker creates a tracker reading from source and starts its worker.
// The caller connects it to the registry with registry.Subscribe(tracker).
func NewTracker(source Source, opts ...Option) *Tracker {
	t := &Tracker{
		source:               source,
		logger:               slog.Default().With("component", "presence"),
		offlineDebounceDelay: OfflineDebounceDelay,
		offlineDebounce:      make(map[string]*time.Timer),
		announced:            make(map[string]bool),
		queue:                make(chan transition, queueSize),
		stop:                 make(chan struct{}),
		done:                 make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.run()
	return t
}

// Subscribe adds a listener for presence transitions.
func (t *Tracker) Subscribe(l Listener) {
	t.lmu.Lock()
	defer t.lmu.Unlock()
	t.listeners = append(t.listeners, l)
}

// IsOnline reports whether the user has at least one live session.
func (t *Tracker) IsOnline(userID string) bool {
	return t.source.IsOnline(userID)
}

// UserOnline is called by the registry when a user's first session registers.
func (t *Tracker) UserOnline(userID string) {
	t.debounceMu.Lock()
	if timer, ok := t.offlineDebounce[userID]; ok {
		timer.Stop()
		delete(t.offlineDebounce, userID)
	}
	t.debounceMu.Unlock()

	t.enqueue(transition{userID: userID, online: true})
}

// UserOffline is called by the registry when a user's last session goes away.
func (t *Tracker) UserOffline(userID string) {
	if t.offlineDebounceDelay <= 0 {
		t.enqueue(transition{userID: userID, online: false})
		return
	}

	t.debounceMu.Lock()
	defer t.debounceMu.Unlock()
	if timer, ok := t.offlineDebounce[userID]; ok {
		timer.Stop()
	}
	t.offlineDebounce[userID] = time.AfterFunc(t.offlineDebounceDelay, func() {
		t.debounceMu.Lock()
		delete(t.offlineDebounce, userID)
		t.debounceMu.Unlock()
		t.enqueue(transition{userID: userID, online: false})
	})
}

func (t *Tracker) enqueue(tr transition) {
	select {
	case t.queue <- tr:
	case <-t.stop:
	}
}

func (t *Tracker) run() {
	defer close(t.done)
	for {
		select {
		case <-t.stop:
			return
		case tr := <-t.queue:
			t.process(tr)
		}
	}
}

func (t *Tracker) process(tr transition) {
	if t.source.IsOnline(tr.userID) != tr.online {
		t.logger.Debug("skipping overtaken presence transition", "user_id", tr.userID, "online", tr.online)
		return
	}
	if t.announced[tr.userID] == tr.online {
		return
	}
	if tr.online {
		t.announced[tr.userID] = true
	} else {
		delete(t.announced, tr.userID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
	defer cancel()

	if t.users != nil {
		if err := t.users.SetOnline(ctx, tr.userID, tr.online, time.Now().UTC()); err != nil {
			t.logger.Warn("failed to record presence", "user_id", tr.userID, "online", tr.online, "error", err)
		}
	}

	t.logger.Info("presence changed", "user_id", tr.userID, "online", tr.online)

	t.lmu.RLock()
	listeners := t.listeners
	t.lmu.RUnlock()
	for _, l := range listeners {
		if tr.online {
			l.UserOnline(ctx, tr.userID)
		} else {
			l.UserOffline(ctx, tr.userID)
		}
	}
}

// Shutdown stops the worker and cancels pending offline reports.
func (t *Tracker) Shutdown() {
	t.stopOnce.Do(func() {
		close(t.stop)
		t.debounceMu.Lock()
		for userID, timer := range t.offlineDebounce {
			timer.Stop()
			delete(t.offlineDebounce, userID)
		}
		t.debounceMu.Unlock()
	})
	<-t.done
}
