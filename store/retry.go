package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"
)

// retry runs fn, retrying failures that match ErrTransient with capped
// exponential backoff. An exhausted budget surfaces as ErrStoreUnavailable.
func (s *Store) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	b := retry.NewExponential(s.config.RetryBaseDelay)
	b = retry.WithCappedDuration(s.config.RetryMaxDelay, b)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithMaxRetries(uint64(s.config.RetryAttempts), b)

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if attempt > 0 {
			retriesTotal.WithLabelValues(op).Inc()
		}
		attempt++
		err := fn(ctx)
		if errors.Is(err, ErrTransient) {
			return retry.RetryableError(err)
		}
		return err
	})
	if errors.Is(err, ErrTransient) {
		s.logger.WarnContext(ctx, "store retries exhausted", "operation", op, "attempts", attempt, "error", err)
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

func (s *Store) get(ctx context.Context, op string, key Key) (*Document, error) {
	var doc *Document
	err := s.retry(ctx, op, func(ctx context.Context) error {
		var err error
		doc, err = s.backend.Get(ctx, key)
		return err
	})
	return doc, err
}

func (s *Store) put(ctx context.Context, op string, doc *Document, cond Condition) error {
	return s.retry(ctx, op, func(ctx context.Context) error {
		return s.backend.Put(ctx, doc, cond)
	})
}

func (s *Store) relocate(ctx context.Context, op string, from Key, to *Document, cond Condition) error {
	return s.retry(ctx, op, func(ctx context.Context) error {
		return s.backend.Relocate(ctx, from, to, cond)
	})
}

func (s *Store) locate(ctx context.Context, op, worldID, id string) (string, error) {
	var parentID string
	err := s.retry(ctx, op, func(ctx context.Context) error {
		var err error
		parentID, err = s.backend.Locate(ctx, worldID, id)
		return err
	})
	return parentID, err
}

func (s *Store) queryPartition(ctx context.Context, op string, q PartitionQuery) ([]*Document, error) {
	var docs []*Document
	err := s.retry(ctx, op, func(ctx context.Context) error {
		var err error
		docs, err = s.backend.QueryPartition(ctx, q)
		return err
	})
	return docs, err
}

func (s *Store) countPartition(ctx context.Context, op, pk string) (int, error) {
	var n int
	err := s.retry(ctx, op, func(ctx context.Context) error {
		var err error
		n, err = s.backend.CountPartition(ctx, pk)
		return err
	})
	return n, err
}
