package resolver

import (
	"context"
	"fmt"
	"time"
)

// ArchiveSweep implements SPEC_FULL.md §4.3.8/§4.4.1: each terminal order
// past the retention horizon is snapshotted and evicted from the live
// store, then the snapshot is archived (best-effort). An archive failure
// logs at error; the order stays evicted — retention is a storage
// concern, not a correctness one.
func (e *Engine) ArchiveSweep(ctx context.Context) {
	horizon := time.Now().Add(-e.cfg.RetentionHorizon)

	for _, hash := range e.store.TerminalOlderThan(horizon) {
		snap, ok := e.store.SnapshotAndEvict(hash)
		if !ok {
			continue
		}

		if err := e.archiver.Archive(ctx, snap.Order, snap.Source, snap.Target); err != nil {
			e.logger.Error("archive sweep: archive failed", "order", fmt.Sprintf("%x", hash), "error", err)
		} else {
			e.logger.Info("archive sweep: order archived and evicted", "order", fmt.Sprintf("%x", hash))
		}
	}
}
