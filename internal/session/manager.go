// Package session maps logical cache keys to identity-scoped storage
// keys. User-scoped entries are prefixed with the signed-in identity so
// that per-user data never leaks across accounts on a shared device;
// switching identity wipes the previous identity's entries.
package session

import (
	"context"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/showgrid/showgrid/internal/signal"
	"github.com/showgrid/showgrid/pkg/types"
)

var log = logging.Logger("session")

// anonymousPrefix scopes user data cached before sign-in. Anonymous is an
// identity like any other: its entries are wiped on sign-in so the next
// account never sees them.
const anonymousPrefix = "anon"

// Wiper removes every durable entry under a key prefix. The cache
// orchestrator satisfies this.
type Wiper interface {
	WipePrefix(ctx context.Context, prefix string) (int, error)
}

// WiperFunc adapts a function to the Wiper interface. It lets callers
// defer to a component that does not exist yet at construction time.
type WiperFunc func(ctx context.Context, prefix string) (int, error)

// WipePrefix implements Wiper
func (f WiperFunc) WipePrefix(ctx context.Context, prefix string) (int, error) {
	return f(ctx, prefix)
}

// Change describes one identity switch
type Change struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
	Wiped    int    `json:"wiped"`
}

// Manager holds the current identity and implements types.Namespacer.
// A zero identity means anonymous.
type Manager struct {
	wiper Wiper
	hub   *signal.Hub[Change]

	mu           sync.RWMutex
	identity     string
	switches     uint64
	wipedEntries uint64
}

// NewManager creates a new session manager starting anonymous
func NewManager(wiper Wiper) *Manager {
	return &Manager{
		wiper: wiper,
		hub:   signal.NewHub[Change](),
	}
}

// Key implements types.Namespacer. Shared entries pass through untouched;
// user-scoped entries are prefixed for the current identity.
func (m *Manager) Key(key string, userScoped bool) string {
	if !userScoped {
		return key
	}

	m.mu.RLock()
	identity := m.identity
	m.mu.RUnlock()

	return prefixFor(identity) + key
}

// Identity returns the current identity, empty when anonymous
func (m *Manager) Identity() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

// Anonymous reports whether no identity is signed in
func (m *Manager) Anonymous() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity == ""
}

// SetIdentity switches the active identity and wipes the previous
// identity's user-scoped entries. The switch happens before the wipe so
// no write lands under the old prefix once SetIdentity is called. Passing
// the current identity is a no-op; passing the empty string signs out.
//
// The wipe count and any wipe error are returned; a failed wipe does not
// roll back the switch.
func (m *Manager) SetIdentity(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	if id == m.identity {
		m.mu.Unlock()
		return 0, nil
	}
	previous := m.identity
	m.identity = id
	m.switches++
	m.mu.Unlock()

	var wiped int
	var err error
	if m.wiper != nil {
		wiped, err = m.wiper.WipePrefix(ctx, prefixFor(previous))
	}

	m.mu.Lock()
	m.wipedEntries += uint64(wiped)
	m.mu.Unlock()

	if err != nil {
		log.Warnw("identity wipe incomplete", "wiped", wiped, "error", err)
	} else {
		log.Infow("identity switched", "wiped", wiped, "anonymous", id == "")
	}

	m.hub.Publish(Change{Previous: previous, Current: id, Wiped: wiped})

	return wiped, err
}

// Subscribe returns a subscription to identity changes
func (m *Manager) Subscribe(buffer int) *signal.Subscription[Change] {
	return m.hub.Subscribe(buffer)
}

// Stats returns session statistics
func (m *Manager) Stats() types.SessionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return types.SessionStats{
		Anonymous:    m.identity == "",
		Switches:     m.switches,
		WipedEntries: m.wipedEntries,
	}
}

// Close shuts down the change hub
func (m *Manager) Close() error {
	m.hub.Close()
	return nil
}

// Helper methods

func prefixFor(identity string) string {
	if identity == "" {
		identity = anonymousPrefix
	}
	return "u:" + identity + ":"
}
