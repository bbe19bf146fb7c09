package tb

import (
	"context"
	"fmt"
)

// Progress is reported after every appended record.
type Progress struct {
	Account   string
	Completed int
	// Total is the collection size reported by the most recent page.
	Total  int
	Latest *Post
}

// ProgressFunc receives sync progress. Service.SyncAccounts may call it from several
// goroutines at once.
type ProgressFunc func(Progress)

// SyncResult summarizes one account's sync.
type SyncResult struct {
	Account   string
	Fetched   int
	Pages     int
	Completed int
	Total     int
	Cursor    int64
	Skipped   int
}

// Synchronizer walks an account's post history from newest to oldest and
// appends every post to the archive, resuming from the archive's last record.
type Synchronizer struct {
	source  PostSource
	archive Archive
	retry   *RetryPolicy
	logger  Logger
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(source PostSource, archive Archive, retry *RetryPolicy, logger Logger) *Synchronizer {
	return &Synchronizer{
		source:  source,
		archive: archive,
		retry:   retry,
		logger:  logger,
	}
}

// Sync fetches every post older than the archive's checkpoint and appends it.
// Cancellation is honoured between pages; a page that was fetched is always
// appended and flushed in full.
func (s *Synchronizer) Sync(ctx context.Context, account string, progress ProgressFunc) (*SyncResult, error) {
	checkpoint, err := s.archive.Checkpoint(account)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint for %s: %w", account, err)
	}

	result := &SyncResult{
		Account:   account,
		Completed: checkpoint.Count,
		Cursor:    checkpoint.Cursor,
	}

	appender, err := s.archive.OpenAppender(account)
	if err != nil {
		return result, fmt.Errorf("opening archive for %s: %w", account, err)
	}
	defer appender.Close()

	s.logger.Info("sync started", "account", account, "cursor", result.Cursor, "completed", result.Completed)

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		cursor := result.Cursor
		page, err := Retry(ctx, s.retry, "posts "+account, func(ctx context.Context) (*Page, error) {
			return s.source.Posts(ctx, account, cursor)
		})
		if err != nil {
			return result, fmt.Errorf("fetching posts for %s before %d: %w", account, cursor, err)
		}
		result.Pages++
		result.Total = page.Total

		if len(page.Records) == 0 {
			break
		}

		appended, err := s.appendPage(appender, page, result, progress)
		if err != nil {
			return result, err
		}
		if err := appender.Sync(); err != nil {
			return result, fmt.Errorf("flushing archive for %s: %w", account, err)
		}

		if appended == 0 {
			s.logger.Warn("page added no posts, stopping", "account", account, "cursor", result.Cursor, "records", len(page.Records))
			break
		}
	}

	s.logger.Info("sync finished", "account", account, "fetched", result.Fetched, "completed", result.Completed, "pages", result.Pages)
	return result, nil
}

// appendPage appends the records of page that are not newer than the cursor.
func (s *Synchronizer) appendPage(appender Appender, page *Page, result *SyncResult, progress ProgressFunc) (int, error) {
	appended := 0
	for i := range page.Records {
		rec := page.Records[i]
		if result.Cursor > 0 && rec.Post.Timestamp > result.Cursor {
			result.Skipped++
			s.logger.Debug("skipping post newer than cursor", "account", result.Account, "id", rec.Post.ID, "timestamp", rec.Post.Timestamp)
			continue
		}

		if err := appender.Append(rec); err != nil {
			return appended, fmt.Errorf("appending post %d for %s: %w", rec.Post.ID, result.Account, err)
		}
		appended++
		result.Fetched++
		result.Completed++
		result.Cursor = rec.Post.Timestamp

		if progress != nil {
			progress(Progress{
				Account:   result.Account,
				Completed: result.Completed,
				Total:     page.Total,
				Latest:    &rec.Post,
			})
		}
	}
	return appended, nil
}
