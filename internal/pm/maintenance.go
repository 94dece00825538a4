package pm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/gzip"

	"upkeep/internal/types"
)

// ArchiveHistoryRepo abstracts the maintenance-history operations needed by
// archival.
type ArchiveHistoryRepo interface {
	// ListCompletedBefore returns completed history rows older than cutoff,
	// up to limit. Unresolved rows stay put: the failure tracker needs them.
	ListCompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.MaintenanceHistory, error)

	// DeleteByIDs removes archived rows and returns the count deleted.
	DeleteByIDs(ctx context.Context, ids []int64) (int, error)
}

// HistoryArchiver abstracts the cold-storage upload for archived history
// batches. Keys look like "maintenance/YYYY/MM/batch_<ts>_<n>.jsonl.gz".
type HistoryArchiver interface {
	UploadArchive(ctx context.Context, key string, data []byte) error
}

// HistoryArchivalBatchLimit caps rows fetched per archival cycle so one run
// stays a bounded batch job.
const HistoryArchivalBatchLimit = 500

// HistoryRetention is the default age after which completed maintenance
// history moves to cold storage. It comfortably exceeds the failure window,
// so archival can never starve the escalation ladder.
const HistoryRetention = 365 * 24 * time.Hour

// HistoryArchivalService moves old completed maintenance-history rows to
// cold storage as gzip-compressed JSONL batches, then deletes them.
type HistoryArchivalService struct {
	history  ArchiveHistoryRepo
	archiver HistoryArchiver // nil if archival is not configured
	logger   *slog.Logger
}

// NewHistoryArchivalService creates a new HistoryArchivalService. The
// archiver may be nil when cold storage is not configured; archival then
// becomes a no-op.
func NewHistoryArchivalService(history ArchiveHistoryRepo, archiver HistoryArchiver, logger *slog.Logger) *HistoryArchivalService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryArchivalService{
		history:  history,
		archiver: archiver,
		logger:   logger,
	}
}

// ArchiveOldHistory fetches, uploads, and deletes completed history rows
// older than the retention period, in batches. It returns the number of rows
// archived.
func (s *HistoryArchivalService) ArchiveOldHistory(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	if s.archiver == nil {
		s.logger.WarnContext(ctx, "history archiver not configured, skipping")
		return 0, nil
	}
	if retention <= 0 {
		retention = HistoryRetention
	}
	cutoff := now.Add(-retention)

	totalArchived := 0
	for batch := 0; ; batch++ {
		entries, err := s.history.ListCompletedBefore(ctx, cutoff, HistoryArchivalBatchLimit)
		if err != nil {
			return totalArchived, fmt.Errorf("listing archivable history: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		data, err := compressJSONL(entries)
		if err != nil {
			return totalArchived, fmt.Errorf("serializing history batch: %w", err)
		}

		// The batch sequence keeps keys unique within one run; the
		// timestamp keeps them unique across runs.
		key := fmt.Sprintf("maintenance/%d/%02d/batch_%d_%d.jsonl.gz",
			cutoff.Year(), cutoff.Month(), now.UnixNano(), batch)

		if err := s.archiver.UploadArchive(ctx, key, data); err != nil {
			return totalArchived, fmt.Errorf("uploading history archive to %s: %w", key, err)
		}

		ids := make([]int64, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		deleted, err := s.history.DeleteByIDs(ctx, ids)
		if err != nil {
			return totalArchived, fmt.Errorf("deleting archived history: %w", err)
		}
		totalArchived += deleted

		s.logger.InfoContext(ctx, "archived maintenance history batch",
			"batch_size", deleted,
			"key", key,
			"total_archived", totalArchived,
		)

		if len(entries) < HistoryArchivalBatchLimit {
			break
		}
	}

	return totalArchived, nil
}

// compressJSONL serializes history entries to gzip-compressed
// newline-delimited JSON.
func compressJSONL(entries []types.MaintenanceHistory) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return nil, fmt.Errorf("marshaling history entry %d: %w", entry.ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip stream: %w", err)
	}
	return buf.Bytes(), nil
}
