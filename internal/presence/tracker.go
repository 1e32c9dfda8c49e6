// Package presence maps transport connections to the logical participant
// behind them. It is local to the gateway process: a multi-instance
// deployment would need to externalize it, which is explicitly out of scope.
package presence

import "sync"

// Binding ties one live connection to the user and session it is subscribed
// for. A user reconnecting gets a fresh connection id and is NOT rebound
// automatically; the client re-invokes JoinRehearsal, which is idempotent.
type Binding struct {
	ConnectionID string
	UserID       string
	Username     string
	SessionToken string
}

// Tracker is safe for concurrent use by the gateway's connection goroutines.
type Tracker struct {
	mu        sync.RWMutex
	byConn    map[string]Binding
	bySession map[string]map[string]struct{} // session token -> connection ids
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byConn:    make(map[string]Binding),
		bySession: make(map[string]map[string]struct{}),
	}
}

// Bind records that connID now represents userID inside the session. A
// connection holds at most one binding; rebinding replaces the old one.
func (t *Tracker) Bind(connID, userID, username, sessionToken string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.byConn[connID]; ok {
		t.removeLocked(old)
	}
	b := Binding{ConnectionID: connID, UserID: userID, Username: username, SessionToken: sessionToken}
	t.byConn[connID] = b
	if t.bySession[sessionToken] == nil {
		t.bySession[sessionToken] = make(map[string]struct{})
	}
	t.bySession[sessionToken][connID] = struct{}{}
}

// Unbind drops the binding for connID. Unbinding a connection that was never
// bound, or already unbound, is a no-op; disconnect handling relies on that.
func (t *Tracker) Unbind(connID string) (Binding, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.byConn[connID]
	if !ok {
		return Binding{}, false
	}
	t.removeLocked(b)
	return b, true
}

// Lookup returns the binding for connID, if any.
func (t *Tracker) Lookup(connID string) (Binding, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.byConn[connID]
	return b, ok
}

// Connections returns the connection ids currently bound to the session.
func (t *Tracker) Connections(sessionToken string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conns := make([]string, 0, len(t.bySession[sessionToken]))
	for id := range t.bySession[sessionToken] {
		conns = append(conns, id)
	}
	return conns
}

// UnbindSession drops every binding for the session, returning what was
// bound. Called when a session ends.
func (t *Tracker) UnbindSession(sessionToken string) []Binding {
	t.mu.Lock()
	defer t.mu.Unlock()

	var bound []Binding
	for connID := range t.bySession[sessionToken] {
		b := t.byConn[connID]
		bound = append(bound, b)
		delete(t.byConn, connID)
	}
	delete(t.bySession, sessionToken)
	return bound
}

func (t *Tracker) removeLocked(b Binding) {
	delete(t.byConn, b.ConnectionID)
	if conns, ok := t.bySession[b.SessionToken]; ok {
		delete(conns, b.ConnectionID)
		if len(conns) == 0 {
			delete(t.bySession, b.SessionToken)
		}
	}
}
