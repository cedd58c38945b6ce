package autofill

import "sync"

// Session accumulates the values of one autofill context while a
// client is attached. The engine feeds it field configurations and
// editing updates; when the client finishes the context with save
// requested, the collected values move to the store in a single
// transaction.
type Session struct {
	mu        sync.Mutex
	contextID string
	hints     []string
	values    map[string]string
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{values: make(map[string]string)}
}

// Observe records a field entering the context. The first observed
// field names the context; the field's hints receive its current text
// and later Update calls until another field is observed.
func (s *Session) Observe(identifier string, hints []string, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.contextID == "" {
		s.contextID = identifier
	}
	s.hints = append([]string(nil), hints...)
	s.record(text)
}

// Update records new text for the most recently observed field.
func (s *Session) Update(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(text)
}

func (s *Session) record(text string) {
	for _, h := range s.hints {
		if h == "" {
			continue
		}
		s.values[h] = text
	}
}

// ContextID returns the identifier naming this context, or "" when no
// field has been observed since the last reset.
func (s *Session) ContextID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contextID
}

// Empty reports whether the session holds no values.
func (s *Session) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values) == 0
}

// Values returns a copy of the collected hint values.
func (s *Session) Values() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Finish ends the context and resets the session. When save is
// requested and values were collected, they are persisted through
// store. Returns the number of values handed to the store.
func (s *Session) Finish(store *Store, shouldSave bool) (int, error) {
	s.mu.Lock()
	contextID := s.contextID
	values := s.values
	s.contextID = ""
	s.hints = nil
	s.values = make(map[string]string)
	s.mu.Unlock()

	if !shouldSave || store == nil || contextID == "" || len(values) == 0 {
		return 0, nil
	}
	if err := store.SaveContext(contextID, values); err != nil {
		return 0, err
	}
	return len(values), nil
}

// Reset drops collected values without saving.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contextID = ""
	s.hints = nil
	s.values = make(map[string]string)
}
