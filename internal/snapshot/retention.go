package snapshot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var errMissingManager = errors.New("snapshot manager is required")

const (
	opRetentionNew = "snapshot.retention.new"
	opPrune        = "snapshot.prune"
)

// RetentionConfig describes the dependencies of the retention policy.
type RetentionConfig struct {
	Manager *Manager
	Logger  *zap.Logger
}

// Retention bounds snapshot history to a configured keep count, discarding
// the oldest snapshots through the manager's deletion path.
type Retention struct {
	manager *Manager
	logger  *zap.Logger
}

// NewRetention constructs the retention policy.
func NewRetention(cfg RetentionConfig) (*Retention, error) {
	if cfg.Manager == nil {
		return nil, newServiceError(opRetentionNew, "missing_manager", errMissingManager)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Retention{manager: cfg.Manager, logger: logger}, nil
}

// Prune deletes every snapshot beyond the newest keepCount and reports how
// many were removed. Pruned snapshots come from the tail of a newest-first
// listing, so none of them holds the maximum id and the manager's sequence
// reclamation never fires here.
func (r *Retention) Prune(ctx context.Context, keepCount int) (int, error) {
	if keepCount <= 0 {
		return 0, newServiceError(opPrune, "invalid_keep_count", fmt.Errorf("keep count %d must be positive", keepCount))
	}

	var ids []int64
	if err := r.manager.db.WithContext(ctx).
		Model(&Snapshot{}).
		Order("created_at DESC").
		Pluck("id", &ids).Error; err != nil {
		r.logger.Error("retention listing failed",
			zap.String("operation", opPrune),
			zap.Error(err))
		return 0, newServiceError(opPrune, "list_failed", err)
	}

	if len(ids) <= keepCount {
		return 0, nil
	}

	pruned := 0
	for _, id := range ids[keepCount:] {
		if _, err := r.manager.Delete(ctx, id); err != nil {
			r.logger.Error("retention delete failed",
				zap.String("operation", opPrune),
				zap.Int64("snapshot_id", id),
				zap.Error(err))
			return pruned, newServiceError(opPrune, "delete_failed", err)
		}
		pruned++
	}

	r.logger.Info("retention pruned snapshots",
		zap.Int("pruned", pruned),
		zap.Int("keep_count", keepCount))
	return pruned, nil
}
