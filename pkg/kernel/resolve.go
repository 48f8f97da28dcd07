package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/famulus-ai/famulus/pkg/integrity"
	"github.com/famulus-ai/famulus/pkg/memory"
	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/store"
)

// ErrUnknownResolution rejects a resolution outside the offered options.
var ErrUnknownResolution = errors.New("unknown resolution")

// ResolveNotification records the user's decision on a blocking notification.
// For contradiction notifications the decision is applied to long-term memory
// first; a decision that cannot be applied is not recorded, so the prompt
// stays open for a retry.
func (k *Kernel) ResolveNotification(ctx context.Context, tenantID, userID, id, resolution string) error {
	n, err := k.notifications.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	// Resolving someone else's notification is indistinguishable from
	// resolving a missing one.
	if n.UserID != userID {
		return store.ErrNotFound
	}

	if n.Type == models.NotifyContradiction {
		if err := k.applyResolution(ctx, n, resolution); err != nil {
			return err
		}
	}
	return k.notifier.Resolve(ctx, tenantID, id, resolution)
}

// applyResolution enforces the user's choice on the two conflicting
// statements. Both were stored at extraction time, so choosing one means
// deleting the other; merge and no_contradiction keep both, the resolution
// text on the notification records the context.
func (k *Kernel) applyResolution(ctx context.Context, n *models.Notification, resolution string) error {
	existingID, _ := n.Metadata["existing_memory_id"].(string)
	newStatement, _ := n.Metadata["new_statement"].(string)

	switch resolution {
	case integrity.ResolutionChooseNew:
		if existingID == "" {
			return nil
		}
		return k.deleteResolved(ctx, n.TenantID, n.UserID, existingID)

	case integrity.ResolutionChooseExisting:
		if newStatement == "" {
			return nil
		}
		entry, err := k.memories.GetLongByFingerprint(ctx,
			n.TenantID, n.UserID, memory.Fingerprint(newStatement))
		if errors.Is(err, store.ErrNotFound) {
			// Extraction never stored it, or it is already gone.
			return nil
		}
		if err != nil {
			return fmt.Errorf("find contradicting entry: %w", err)
		}
		return k.deleteResolved(ctx, n.TenantID, n.UserID, entry.ID)

	case integrity.ResolutionNoContradiction, integrity.ResolutionMerge:
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownResolution, resolution)
	}
}

// deleteResolved drops the losing statement. A delete that left rows and
// embeddings out of step schedules an immediate repair pass before the error
// surfaces.
func (k *Kernel) deleteResolved(ctx context.Context, tenantID, userID, id string) error {
	err := k.memory.DeleteLong(ctx, tenantID, userID, []string{id})
	if err == nil {
		return nil
	}
	if errors.Is(err, memory.ErrInconsistent) {
		k.scheduleRepair(tenantID)
	}
	return fmt.Errorf("delete resolved memory: %w", err)
}

// scheduleRepair queues a memory integrity pass ahead of the next retention
// tick.
func (k *Kernel) scheduleRepair(tenantID string) {
	task := models.NewTask(models.TaskIntegrityCheck, models.PriorityMedium, tenantID)
	if err := k.queue.Enqueue(task); err != nil {
		k.logger.Warn("Failed to schedule memory repair", "error", err)
	}
}

// handleIntegrityCheck runs the repair pass: expired medium rows, orphan
// embeddings, and missing embeddings are all reconciled by the memory GC.
func (k *Kernel) handleIntegrityCheck(ctx context.Context, task *models.Task) error {
	stats, err := k.memory.GC(ctx)
	if err != nil {
		return fmt.Errorf("memory repair: %w", err)
	}
	k.logger.Info("Memory repair pass finished",
		"expired_medium", stats.ExpiredMedium,
		"orphan_embeddings", stats.OrphanEmbeddings,
		"reindexed_missing", stats.ReindexedMissing)
	return nil
}
