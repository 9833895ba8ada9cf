package rulesmgr

// Subscription is a subscription to the publications of a [Manager].  Only the
// latest event is kept for a subscriber that is slow to receive.
type Subscription struct {
	mgr     *Manager
	updates chan *UpdateEvent
}

// Subscribe returns a new subscription to the publications that happen after
// the call.
func (m *Manager) Subscribe() (s *Subscription) {
	s = &Subscription{
		mgr:     m,
		updates: make(chan *UpdateEvent, 1),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.subs.Add(s)

	return s
}

// Updates returns the channel of update events.  It is closed after
// [Subscription.Cancel] or the shutdown of the manager.
func (s *Subscription) Updates() (ch <-chan *UpdateEvent) {
	return s.updates
}

// Cancel cancels the subscription.  It is safe to call it more than once.
func (s *Subscription) Cancel() {
	m := s.mgr

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.subs.Has(s) {
		return
	}

	m.subs.Delete(s)
	close(s.updates)
}

// deliver replaces the undelivered event, if any, with e.  It must only be
// called with the manager's mu locked.
func (s *Subscription) deliver(e *UpdateEvent) {
	select {
	case <-s.updates:
	default:
	}

	s.updates <- e
}
