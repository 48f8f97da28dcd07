package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/famulus-ai/famulus/pkg/models"
)

// retentionResource keys the retention warning slot on the warnings registry.
const retentionResource = "retention"

// scheduleMaintenance is the scheduler producer for the retention sweep. It
// emits one maintenance task per cleanup interval; the dispatcher runs the
// sweep itself so a slow pass never stalls other scheduled jobs.
func (k *Kernel) scheduleMaintenance(ctx context.Context) ([]*models.Task, error) {
	task := models.NewTask(models.TaskMemoryMaintenance, models.PriorityLow, "")
	return []*models.Task{task}, nil
}

// handleMemoryMaintenance runs the retention sweep: memory GC, read
// notifications past their retention window, and archived sessions past
// theirs. Each part runs even when an earlier one fails; a failed sweep
// raises a warning and retries on the task's backoff, a clean one clears it.
func (k *Kernel) handleMemoryMaintenance(ctx context.Context, task *models.Task) error {
	var errs []error

	if stats, err := k.memory.GC(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory gc: %w", err))
	} else {
		k.logger.Info("Memory GC finished",
			"expired_medium", stats.ExpiredMedium,
			"orphan_embeddings", stats.OrphanEmbeddings,
			"reindexed_missing", stats.ReindexedMissing)
	}

	notifCutoff := time.Now().AddDate(0, 0, -k.retention.NotificationRetentionDays)
	if purged, err := k.notifications.DeleteReadOlderThan(ctx, notifCutoff); err != nil {
		errs = append(errs, fmt.Errorf("purge read notifications: %w", err))
	} else if purged > 0 {
		k.logger.Info("Read notifications purged", "count", purged)
	}

	sessionCutoff := time.Now().AddDate(0, 0, -k.retention.ArchivedSessionRetentionDays)
	if purged, err := k.sessions.PurgeArchived(ctx, sessionCutoff); err != nil {
		errs = append(errs, fmt.Errorf("purge archived sessions: %w", err))
	} else if purged > 0 {
		k.logger.Info("Archived sessions purged", "count", purged)
	}

	if err := errors.Join(errs...); err != nil {
		k.warnings.AddWarning(WarningCategoryRetention, "Retention sweep failed", err.Error(), retentionResource)
		return err
	}
	k.warnings.ClearByResource(WarningCategoryRetention, retentionResource)
	return nil
}
