// Package transcript turns partial recognition results into caller utterances.
package transcript

import "strings"

// Interrupter is notified when the caller speaks over pending synthesis audio.
type Interrupter interface {
	// Pending reports whether a synthesis turn still has audio to deliver.
	Pending() bool

	// Reset discards any queued synthesis audio.
	Reset()
}

// Accumulator collects recognition fragments until an utterance boundary.
//
// It is not safe for concurrent use; the owning session serialises access.
type Accumulator struct {
	fragments       []string
	pendingResponse bool
	interrupter     Interrupter
}

// New creates an Accumulator. interrupter may be nil.
func New(interrupter Interrupter) *Accumulator {
	return &Accumulator{interrupter: interrupter}
}

// Add records a non-empty fragment. If synthesis audio is pending, the
// interrupter is reset before the fragment is recorded and interrupted is true.
func (a *Accumulator) Add(text string) (appended, interrupted bool) {
	if text == "" {
		return false, false
	}
	if a.interrupter != nil && a.interrupter.Pending() {
		a.interrupter.Reset()
		interrupted = true
	}
	a.fragments = append(a.fragments, text)
	return true, interrupted
}

// Boundary closes the current utterance. It returns the space-joined, trimmed
// fragments and arms the pending-response flag. When nothing but whitespace was
// accumulated it returns false and leaves the fragments untouched.
func (a *Accumulator) Boundary() (string, bool) {
	utterance := strings.TrimSpace(strings.Join(a.fragments, " "))
	if utterance == "" {
		return "", false
	}
	a.fragments = a.fragments[:0]
	a.pendingResponse = true
	return utterance, true
}

// TakePendingResponse reports whether an utterance is awaiting a response
// request and disarms the flag.
func (a *Accumulator) TakePendingResponse() bool {
	p := a.pendingResponse
	a.pendingResponse = false
	return p
}

// PendingResponse reports the flag without clearing it.
func (a *Accumulator) PendingResponse() bool {
	return a.pendingResponse
}

// Len returns the number of fragments awaiting a boundary.
func (a *Accumulator) Len() int {
	return len(a.fragments)
}

// Clear drops accumulated fragments.
func (a *Accumulator) Clear() {
	a.fragments = a.fragments[:0]
}
