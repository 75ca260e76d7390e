package room

import (
	"context"
	"sync"
	"time"

	"github.com/nfrund/chathub/internal/domain"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL bounds how stale a cached authorization decision can be.
const DefaultCacheTTL = 5 * time.Second

// fetchTimeout bounds a shared store lookup.
const fetchTimeout = 5 * time.Second

type cacheEntry struct {
	value   any
	expires time.Time
}

// MembershipCache serves the read-mostly membership lookups of the delivery
// path from a short-TTL cache. Concurrent misses for the same key share one
// store call.
type MembershipCache struct {
	store domain.MembershipStore
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

// NewMembershipCache wraps store. A non-positive ttl selects DefaultCacheTTL.
func NewMembershipCache(store domain.MembershipStore, ttl time.Duration) *MembershipCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MembershipCache{
		store:   store,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func memberKey(userID, roomID string) string { return "m|" + roomID + "|" + userID }
func membersKey(roomID string) string        { return "r|" + roomID }
func roomsKey(userID string) string          { return "u|" + userID }

func (c *MembershipCache) get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expires) {
		return nil, false
	}
	return e.value, true
}

// load serves key from the cache or fetches it. Concurrent misses share one
// fetch, which runs detached from any single caller so a cancelled caller
// does not fail the others; each caller still stops waiting when its own ctx
// ends.
func (c *MembershipCache) load(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	if v, ok := c.get(key); ok {
		return v, nil
	}
	res := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		v, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{value: v, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return v, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-res:
		return r.Val, r.Err
	}
}

// IsMember reports whether userID belongs to roomID.
func (c *MembershipCache) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	v, err := c.load(ctx, memberKey(userID, roomID), func(ctx context.Context) (any, error) {
		return c.store.IsMember(ctx, userID, roomID)
	})
	if err != nil {
		return false, domain.NewPersistenceError("is member", err)
	}
	return v.(bool), nil
}

// Members returns the members of roomID in join order.
func (c *MembershipCache) Members(ctx context.Context, roomID string) ([]domain.Member, error) {
	v, err := c.load(ctx, membersKey(roomID), func(ctx context.Context) (any, error) {
		return c.store.Members(ctx, roomID)
	})
	if err != nil {
		return nil, domain.NewPersistenceError("members", err)
	}
	return v.([]domain.Member), nil
}

// RoomsOf returns the rooms userID belongs to.
func (c *MembershipCache) RoomsOf(ctx context.Context, userID string) ([]string, error) {
	v, err := c.load(ctx, roomsKey(userID), func(ctx context.Context) (any, error) {
		return c.store.RoomsOf(ctx, userID)
	})
	if err != nil {
		return nil, domain.NewPersistenceError("rooms of", err)
	}
	return v.([]string), nil
}

// Invalidate drops every cached entry about roomID and the given users.
func (c *MembershipCache) Invalidate(roomID string, userIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, membersKey(roomID))
	for _, u := range userIDs {
		delete(c.entries, memberKey(u, roomID))
		delete(c.entries, roomsKey(u))
	}
}
