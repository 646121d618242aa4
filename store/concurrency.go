package store

import (
	"context"
	"errors"
	"strconv"
	"time"
)

const tokenPrefix = "v"

// tokenOf renders a document version as an opaque token.
func tokenOf(version int64) Token {
	return Token(tokenPrefix + strconv.FormatInt(version, 36))
}

// checkToken fails with ErrConflict when token is set and does not match d.
func checkToken(d *Document, token Token) error {
	if token == "" || token == tokenOf(d.Version) {
		return nil
	}
	return ErrConflict
}

// successor returns a copy of d carrying the next version.
func (d *Document) successor(now time.Time) *Document {
	next := d.Clone()
	next.Version = d.Version + 1
	next.ModifiedAt = now
	return next
}

// mutate runs a conditional read-modify-write.
//
// load reads the current document; change derives its successor or returns
// nil to leave the document as it is. The write is conditional on the version
// load observed. With a token the first lost race is a conflict; without one
// the write is replayed against fresh state up to Config.ConflictReplays times.
func (s *Store) mutate(ctx context.Context, op string, token Token, load func(context.Context) (*Document, error), change func(*Document) (*Document, error)) (*Document, error) {
	for range s.config.ConflictReplays {
		cur, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := checkToken(cur, token); err != nil {
			return nil, err
		}
		next, err := change(cur)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return cur, nil
		}
		err = s.put(ctx, op, next, Condition{Version: cur.Version})
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrConditionFailed) {
			return nil, err
		}
		if token != "" {
			return nil, ErrConflict
		}
	}
	return nil, ErrConflict
}
