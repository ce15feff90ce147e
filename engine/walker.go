package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/franksops/bbdrain/provider"
)

// Enqueuer accepts drain operations. *Drainer implements it.
type Enqueuer interface {
	Enqueue(op DrainOperation) error
}

// WalkStats summarizes what a walk enqueued.
type WalkStats struct {
	Files   int64
	Bytes   int64
	Skipped int64
}

// Walker traverses a staging directory iteratively and enqueues a Create
// followed by a Copy for every regular file it finds.
// It avoids deep recursion to prevent stack overflows on very deep directory structures.
type Walker struct {
	SourceProvider provider.Provider
	Queue          Enqueuer
}

// NewWalker creates a new iterative directory walker.
func NewWalker(src provider.Provider, queue Enqueuer) *Walker {
	return &Walker{
		SourceProvider: src,
		Queue:          queue,
	}
}

// enqueueFile drains one file: the destination is always created, and the
// copy is only enqueued when there is something to copy.
func (w *Walker) enqueueFile(src, dst string, size int64, stats *WalkStats) error {
	if err := w.Queue.Enqueue(NewCreateOp(dst)); err != nil {
		return fmt.Errorf("failed to enqueue create of %s: %w", dst, err)
	}
	if size > 0 {
		if err := w.Queue.Enqueue(NewCopyOp(src, dst, size)); err != nil {
			return fmt.Errorf("failed to enqueue copy of %s: %w", src, err)
		}
	}
	stats.Files++
	stats.Bytes += size
	return nil
}

// Walk starts an iterative (stack-based) walk of sourcePath, mirroring it
// under destPath. Entries that are neither directories nor regular files
// are counted as skipped.
func (w *Walker) Walk(ctx context.Context, sourcePath string, destPath string) (WalkStats, error) {
	var stats WalkStats

	stat, err := w.SourceProvider.Stat(ctx, sourcePath)
	if err != nil {
		return stats, fmt.Errorf("failed to stat source %s: %w", sourcePath, err)
	}

	// If the root itself is just a file, enqueue it alone.
	if !stat.IsDir() {
		if !provider.Regular(stat) {
			stats.Skipped++
			return stats, nil
		}
		return stats, w.enqueueFile(sourcePath, destPath, stat.Size(), &stats)
	}

	// Paths on the stack are relative to sourcePath to easily compute destination paths.
	stack := []string{""}

	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		relPath := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		currentSourcePath := sourcePath
		if relPath != "" {
			currentSourcePath = filepath.Join(sourcePath, relPath)
		}

		entries, err := w.SourceProvider.List(ctx, currentSourcePath)
		if err != nil {
			return stats, fmt.Errorf("failed to list directory %s: %w", currentSourcePath, err)
		}

		for _, entry := range entries {
			entryRelPath := entry.Name()
			if relPath != "" {
				entryRelPath = filepath.Join(relPath, entry.Name())
			}

			if entry.IsDir() {
				stack = append(stack, entryRelPath)
				continue
			}
			if !provider.Regular(entry) {
				stats.Skipped++
				continue
			}

			err := w.enqueueFile(
				filepath.Join(sourcePath, entryRelPath),
				filepath.Join(destPath, entryRelPath),
				entry.Size(),
				&stats,
			)
			if err != nil {
				return stats, err
			}
		}
	}

	return stats, nil
}
