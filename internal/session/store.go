// Package session keeps conversation transcripts keyed by session id.
package session

import (
	"context"
	"errors"

	"healthq/internal/model"
)

var ErrEmptySessionID = errors.New("session id is empty")

// Store holds append-only transcripts. Appending to an unknown session
// creates it.
type Store interface {
	GetOrCreate(ctx context.Context, id string) (*model.Session, error)
	Append(ctx context.Context, id string, turn model.Turn) error
	Transcript(ctx context.Context, id string) ([]model.Turn, error)
	Reset(ctx context.Context, id string) error
}
