package domain

import "errors"

var (
	// ErrInvalidIdentity is returned when a session is created with a
	// string that does not look like an email address.
	ErrInvalidIdentity = errors.New("identity is not a valid email address")
	// ErrSessionNotFound is returned when an operation needs a live
	// session and the store holds none.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrQuestionFetch indicates the question-bank call failed or returned
	// a malformed payload. Fatal to the attempt; the user must restart.
	ErrQuestionFetch = errors.New("question fetch failed")
	// ErrNotSubmitted is returned when a report is requested for a session
	// that has not been submitted yet.
	ErrNotSubmitted = errors.New("session not submitted")
)
