package session

import (
	"time"
)

// turnTimer measures the gap between an utterance reaching the dialogue leg and
// the first synthesized audio of the reply. Owned by the session loop.
type turnTimer struct {
	sentAt  time.Time
	history []time.Duration
	now     func() time.Time
}

const latencyHistory = 50

func newTurnTimer() *turnTimer {
	return &turnTimer{now: time.Now}
}

// MarkUtterance records when an utterance was sent.
func (t *turnTimer) MarkUtterance() {
	t.sentAt = t.now()
}

// MarkFirstAudio returns the latency for the current turn the first time it is
// called after MarkUtterance.
func (t *turnTimer) MarkFirstAudio() (time.Duration, bool) {
	if t.sentAt.IsZero() {
		return 0, false
	}
	d := t.now().Sub(t.sentAt)
	t.sentAt = time.Time{}

	t.history = append(t.history, d)
	if len(t.history) > latencyHistory {
		t.history = t.history[1:]
	}
	return d, true
}

// Average returns the mean latency over recent turns.
func (t *turnTimer) Average() time.Duration {
	if len(t.history) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range t.history {
		sum += d
	}
	return sum / time.Duration(len(t.history))
}

// Cancel drops the in-flight measurement.
func (t *turnTimer) Cancel() {
	t.sentAt = time.Time{}
}
