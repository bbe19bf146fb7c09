package tb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Service coordinates syncing and publishing and records every run in the
// history database.
type Service struct {
	database  Database
	sync      *Synchronizer
	publisher DraftPublisher
	logger    Logger
	clock     Clock
}

// NewService creates a Service. publisher may be nil when drafting is not used.
func NewService(database Database, sync *Synchronizer, publisher DraftPublisher, logger Logger, clock Clock) *Service {
	return &Service{
		database:  database,
		sync:      sync,
		publisher: publisher,
		logger:    logger,
		clock:     clock,
	}
}

// SyncAccounts syncs every account on a pool of workers, recording one
// history operation per account. All accounts run to completion; the
// returned error joins every per-account failure.
func (s *Service) SyncAccounts(ctx context.Context, accounts []string, workers int, progress ProgressFunc) ([]*SyncResult, error) {
	results := make([]*SyncResult, len(accounts))
	err := forEachAccount(accounts, workers, func(i int, account string) error {
		return s.Track(OperationSync, account, func() (int64, error) {
			res, err := s.sync.Sync(ctx, account, progress)
			results[i] = res
			if res == nil {
				return 0, err
			}
			return int64(res.Fetched), err
		})
	})
	return results, err
}

// PublishDraft creates post as a draft on account. Drafts are created exactly
// once per call and never retried.
func (s *Service) PublishDraft(ctx context.Context, account string, post *Post) (string, error) {
	if s.publisher == nil {
		return "", fmt.Errorf("no draft publisher configured")
	}

	var id string
	err := s.Track(OperationDraft, account, func() (int64, error) {
		var err error
		id, err = s.publisher.CreateDraft(ctx, account, post)
		if err != nil {
			return 0, err
		}
		return 1, nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("draft created", "account", account, "id", id)
	return id, nil
}

// Track records fn as an operation of the given kind. fn returns the number
// of records it handled. fn's error is returned unchanged; a failure to
// record the outcome is logged.
func (s *Service) Track(kind, account string, fn func() (int64, error)) error {
	op, err := s.database.CreateOperation(kind, account, s.clock.Now())
	if err != nil {
		return fmt.Errorf("recording %s operation: %w", kind, err)
	}

	records, runErr := fn()

	status, detail := StatusSuccess, ""
	if runErr != nil {
		status, detail = StatusError, runErr.Error()
	}
	if err := s.database.FinishOperation(op.ID, s.clock.Now(), status, records, detail); err != nil {
		s.logger.Error("failed to record operation outcome", "kind", kind, "account", account, "error", err)
	}

	return runErr
}

// GetHistory returns the most recent operations, ordered newest first.
func (s *Service) GetHistory(limit int) ([]*Operation, error) {
	ops, err := s.database.ListOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// forEachAccount runs fn for every account on a bounded pool. Every call runs
// to completion regardless of the others; failures are joined.
func forEachAccount(accounts []string, workers int, fn func(i int, account string) error) error {
	if workers <= 0 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	g.SetLimit(workers)
	for i, account := range accounts {
		g.Go(func() error {
			if err := fn(i, account); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
