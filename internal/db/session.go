package db

import "sync"

// Session carries the identity and authorization context of one logical
// connection. It is created by the transport on connect and must be released
// on disconnect so live subscriptions are cleaned up.
type Session struct {
	// ID is an opaque unique identifier. It is attached to every change a
	// session produces so clients can recognise their own writes.
	ID string

	// UID is the authenticated subject, empty for anonymous sessions.
	UID string

	// Root bypasses all permission checks when set.
	Root bool

	mu            sync.Mutex
	subscriptions map[string]func()
}

// NewSession constructs a session with the given opaque id.
func NewSession(id string) *Session {
	return &Session{ID: id, subscriptions: make(map[string]func())}
}

func (s *Session) addSubscription(id string, unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[id] = unsubscribe
}

func (s *Session) removeSubscription(id string) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	unsubscribe := s.subscriptions[id]
	delete(s.subscriptions, id)
	return unsubscribe
}

// SubscriptionCount reports the number of active subscriptions.
func (s *Session) SubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscriptions)
}

// Release unsubscribes every active subscription. Called by the transport
// when the connection closes.
func (s *Session) Release() {
	s.mu.Lock()
	subs := s.subscriptions
	s.subscriptions = make(map[string]func())
	s.mu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}
}
