package journal

import (
	"context"
	"errors"
	"io/fs"

	"fop-go/internal/fop"
)

// Recover cleans up after jobs that never finished: it removes their
// pending part files and marks them interrupted. It returns the number of
// jobs closed. A part that cannot be removed stays pending so a later run
// can retry it.
func Recover(ctx context.Context, j *SQLiteJournal, registry *fop.Registry, clock fop.Clock, logger fop.Logger) (int, error) {
	jobs, err := j.Unfinished()
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		parts, err := j.PendingParts(job.ID)
		if err != nil {
			return closed, err
		}
		clean := true
		for _, part := range parts {
			if err := removePart(ctx, registry, part); err != nil {
				logger.Warn("failed to remove part file", "job", job.ID, "part", part.String(), "error", err)
				clean = false
				continue
			}
			if err := j.PartResolved(job.ID, part); err != nil {
				return closed, err
			}
			logger.Info("removed part file", "job", job.ID, "part", part.String())
		}
		if !clean {
			continue
		}
		if err := j.MarkInterrupted(job.ID, clock.Now()); err != nil {
			return closed, err
		}
		logger.Info("job marked interrupted", "job", job.ID, "type", job.Type)
		closed++
	}
	return closed, nil
}

func removePart(ctx context.Context, registry *fop.Registry, part fop.URL) error {
	b, err := registry.Backend(part)
	if err != nil {
		return err
	}
	if err := b.Remove(ctx, part); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
