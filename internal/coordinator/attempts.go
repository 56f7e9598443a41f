package coordinator

import (
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// LoadAttempts remembers, per (client connection, file), which nodes were
// already offered in the current load sequence. Entries expire after a
// period of inactivity so abandoned sequences do not accumulate.
//
// A forgotten connection stays marked for the same period, so a load queued
// behind a rebalance and replayed after the disconnect records nothing.
type LoadAttempts struct {
	mu    sync.Mutex // guards every access to both caches
	cache *cache.Cache
	gone  *cache.Cache
}

// NewLoadAttempts creates a tracker whose idle sequences expire after ttl.
func NewLoadAttempts(ttl time.Duration) *LoadAttempts {
	return &LoadAttempts{cache: cache.New(ttl, ttl), gone: cache.New(ttl, ttl)}
}

func attemptKey(connID, name string) string {
	return connID + "/" + name
}

// Tried returns the nodes offered so far, oldest first.
func (a *LoadAttempts) Tried(connID, name string) []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tried(attemptKey(connID, name))
}

func (a *LoadAttempts) tried(key string) []int {
	v, ok := a.cache.Get(key)
	if !ok {
		return nil
	}
	return v.([]int)
}

// Record appends port to the sequence.
func (a *LoadAttempts) Record(connID, name string, port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, forgotten := a.gone.Get(connID); forgotten {
		return
	}
	key := attemptKey(connID, name)
	prev := a.tried(key)
	next := make([]int, len(prev), len(prev)+1)
	copy(next, prev)
	a.cache.SetDefault(key, append(next, port))
}

// Clear ends the sequence for one file.
func (a *LoadAttempts) Clear(connID, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache.Delete(attemptKey(connID, name))
}

// Forget drops every sequence of a connection, used when the client
// disconnects.
func (a *LoadAttempts) Forget(connID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gone.SetDefault(connID, struct{}{})
	prefix := connID + "/"
	for key := range a.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			a.cache.Delete(key)
		}
	}
}

// Len returns the number of live sequences.
func (a *LoadAttempts) Len() int {
	return a.cache.ItemCount()
}
