// Package history stores completed conversation turns.
//
// Turns feed two consumers: the LLM responder, which can replay the most
// recent exchanges as conversation context, and the web API, which lists
// them for the browser client. [MemoryStore] keeps a bounded in-process
// log; [PostgresStore] persists turns with pgx.
package history

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by [Store.Get] for an unknown turn ID.
var ErrNotFound = errors.New("history: turn not found")

// Turn is one finished exchange.
type Turn struct {
	// ID is assigned by the store on Record.
	ID int64 `json:"id"`

	// Input is the utterance as recognised.
	Input string `json:"input"`

	// Corrected is the utterance after vocabulary correction. It equals
	// Input when nothing was corrected.
	Corrected string `json:"corrected"`

	// Reply is the text shown to the user: the responder's answer or the
	// error placeholder.
	Reply string `json:"reply"`

	// Failed marks turns whose responder call returned an error.
	Failed bool `json:"failed"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Store persists turns. Implementations must be safe for concurrent use.
type Store interface {
	// Record saves t and sets t.ID.
	Record(ctx context.Context, t *Turn) error

	// Recent returns up to n of the latest turns, oldest first.
	Recent(ctx context.Context, n int) ([]Turn, error)

	// Get returns the turn with the given ID or ErrNotFound.
	Get(ctx context.Context, id int64) (*Turn, error)
}
