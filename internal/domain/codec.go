package domain

import "encoding/json"

// EncodeSession serializes a session to its stored blob form.
func EncodeSession(s Session) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSession parses a stored blob back into a session. There is no
// schema version on the blob, so anything structurally unsound is reported
// as absent (ok=false) rather than as an error: a corrupt record must route
// the user to session creation, never crash the service.
func DecodeSession(blob []byte) (Session, bool) {
	var s Session
	if err := json.Unmarshal(blob, &s); err != nil {
		return Session{}, false
	}
	if !s.valid() {
		return Session{}, false
	}
	if s.Answers == nil {
		s.Answers = make(map[int]string)
	}
	if s.Visited == nil {
		s.Visited = make(map[int]bool)
	}
	return s, true
}

func (s *Session) valid() bool {
	switch s.Status {
	case StatusInProgress, StatusSubmitted:
	default:
		return false
	}
	if s.Identity == "" || s.StartedAt <= 0 || s.DurationSeconds <= 0 {
		return false
	}
	// Answer and visited keys must address real questions once the set is
	// populated; an empty question set is the transient loading state.
	if len(s.Questions) > 0 {
		for idx := range s.Answers {
			if idx < 0 || idx >= len(s.Questions) {
				return false
			}
		}
		for idx := range s.Visited {
			if idx < 0 || idx >= len(s.Questions) {
				return false
			}
		}
	}
	return true
}
