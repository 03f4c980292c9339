package stream

import (
	"strings"
	"time"

	"BytesmeSearch/internal/session"
)

// Accumulator folds the chunks of one in-flight turn.
// It is not safe for concurrent use; Session guards it with its own mutex.
type Accumulator struct {
	thinking   []string
	answer     strings.Builder
	products   []session.ProductAttachment
	isThinking bool
	chunks     int
}

// NewAccumulator returns an empty pending turn
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Apply folds one chunk into the pending turn. Session id chunks are mirrored
// into target immediately; a later id replaces an earlier one.
// Done and error chunks are not handled here.
func (a *Accumulator) Apply(c Chunk, target *session.SearchSession) {
	a.chunks++
	switch c.Kind {
	case ChunkThinking:
		a.thinking = append(a.thinking, c.Text)
		a.isThinking = true
	case ChunkAnswer:
		a.answer.WriteString(c.Text)
		a.isThinking = false
	case ChunkProduct:
		// repeated product ids are kept as separate entries
		a.products = append(a.products, c.Product.Clone())
	case ChunkSessionID:
		if target != nil {
			target.SetSessionID(c.SessionID)
		}
	}
}

// Snapshot returns a deep copy of the pending state
func (a *Accumulator) Snapshot() session.PendingSnapshot {
	return session.PendingSnapshot{
		ThinkingText: strings.Join(a.thinking, "\n"),
		AnswerText:   a.answer.String(),
		Products:     session.CloneProducts(a.products),
		IsThinking:   a.isThinking,
	}
}

// Chunks returns how many chunks were applied
func (a *Accumulator) Chunks() int {
	return a.chunks
}

// Freeze builds the immutable assistant turn from the pending state
func (a *Accumulator) Freeze(completedAt time.Time) session.AssistantTurn {
	return session.NewAssistantTurn(a.answer.String(), a.products, completedAt)
}
