// Package store persists transfer records and processed bridge messages
package store

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/transfer"
	"github.com/rs/zerolog"
)

var storeLog zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	storeLog = zerolog.New(out).With().Timestamp().Str("component", "store").Logger()
}

var (
	ErrRecordExists   = errors.New("transfer record already exists")
	ErrRecordNotFound = errors.New("transfer record not found")
)

// RecordStore is the append only home of transfer records. Records are never deleted and only
// change through Transition.
type RecordStore interface {
	Create(ctx context.Context, rec *transfer.Record) error
	Get(ctx context.Context, id transfer.ID) (*transfer.Record, error)
	// Transition applies one state change atomically with respect to other transitions of the
	// same record and returns the updated record
	Transition(ctx context.Context, id transfer.ID, to transfer.State, u transfer.Update) (*transfer.Record, error)
	// ListByState returns records in any of the given states, oldest first
	ListByState(ctx context.Context, states ...transfer.State) ([]*transfer.Record, error)
}
