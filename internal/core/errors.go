package core

import "errors"

var (
	// ErrCaseNotFound means the case id did not resolve to a profile.  No
	// session can be built from it.
	ErrCaseNotFound = errors.New("case not found")

	// ErrProviderUnavailable accompanies fallback text when the completion
	// provider failed or timed out.  The caller should show the fallback and
	// a connectivity warning.
	ErrProviderUnavailable = errors.New("completion provider unavailable")

	// ErrSessionBusy rejects a call made while another provider request of
	// the same session is outstanding.
	ErrSessionBusy = errors.New("session is waiting for a reply")

	// ErrSessionClosed is returned by every operation after Close.
	ErrSessionClosed = errors.New("session closed")

	ErrEmptyQuestion      = errors.New("question is empty")
	ErrGreetingDone       = errors.New("greeting already requested")
	ErrSimulationNotFound = errors.New("simulation not found")
)
