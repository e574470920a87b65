package types

import (
	"sync"
)

type fileProgress struct {
	transferred uint64
	total       uint64
}

// ProgressTracker aggregates per-file progress for one task. It is shared by
// every transfer of the task and guarded by a single mutex that is never held
// across I/O.
type ProgressTracker struct {
	mu    sync.Mutex
	files map[string]*fileProgress
	order []string
}

// NewProgressTracker seeds one entry per item, keyed by FileID(taskID, i),
// with (0, sizes[i]).
func NewProgressTracker(taskID string, sizes []int64) *ProgressTracker {
	pt := &ProgressTracker{
		files: make(map[string]*fileProgress, len(sizes)),
		order: make([]string, 0, len(sizes)),
	}
	for i, size := range sizes {
		if size < 0 {
			size = 0
		}
		id := FileID(taskID, i)
		pt.files[id] = &fileProgress{total: uint64(size)}
		pt.order = append(pt.order, id)
	}
	return pt
}

// Update overwrites the transferred value for fileID. Callers are expected to
// report monotonically. Unknown IDs are ignored so the aggregate total never
// changes after construction.
func (pt *ProgressTracker) Update(fileID string, transferred int64) bool {
	if transferred < 0 {
		transferred = 0
	}
	pt.mu.Lock()
	defer pt.mu.Unlock()
	fp, ok := pt.files[fileID]
	if !ok {
		return false
	}
	fp.transferred = uint64(transferred)
	return true
}

// Total returns the sum of transferred and total bytes across all files.
func (pt *ProgressTracker) Total() (transferred, total uint64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for _, fp := range pt.files {
		transferred += fp.transferred
		total += fp.total
	}
	return transferred, total
}

// Get returns the progress of a single file
func (pt *ProgressTracker) Get(fileID string) (transferred, total uint64, ok bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	fp, ok := pt.files[fileID]
	if !ok {
		return 0, 0, false
	}
	return fp.transferred, fp.total, true
}

// FileIDs returns the tracked IDs in item order
func (pt *ProgressTracker) FileIDs() []string {
	ids := make([]string, len(pt.order))
	copy(ids, pt.order)
	return ids
}
