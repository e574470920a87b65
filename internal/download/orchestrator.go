// Package download runs batches of items: size probing, concurrent transfers,
// post-transfer validation and cleanup.
package download

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/weightfetch/weightfetch/internal/engine"
	"github.com/weightfetch/weightfetch/internal/engine/events"
	"github.com/weightfetch/weightfetch/internal/engine/single"
	"github.com/weightfetch/weightfetch/internal/engine/types"
	"github.com/weightfetch/weightfetch/internal/engine/verify"
)

// History receives per-item lifecycle updates. Failures to record are logged
// and never fail a batch.
type History interface {
	StartTask(taskID string, items []types.DownloadItem, paths []string) error
	SetItemStatus(taskID string, index int, status types.ItemStatus, errMsg string) error
	FinishTask(taskID string, err error) error
}

// Options configures an Orchestrator. Root is required.
type Options struct {
	Root    DataRootResolver
	Emitter events.Emitter
	Hasher  verify.Hasher
	History History
	Runtime *types.RuntimeConfig
	Log     zerolog.Logger

	// MaxParallel bounds concurrent transfers; 0 means one per item.
	MaxParallel int
}

// Orchestrator runs download tasks. It holds no per-task state, so one
// instance may serve tasks for different data roots sequentially; callers
// must serialize tasks that touch the same destinations.
type Orchestrator struct {
	opts Options
	log  zerolog.Logger
}

// New validates opts and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Root == nil {
		return nil, fmt.Errorf("%w: data root resolver is required", types.ErrConfiguration)
	}
	if opts.Emitter == nil {
		opts.Emitter = events.Discard
	}
	if opts.Hasher == nil {
		opts.Hasher = verify.SHA256{}
	}
	return &Orchestrator{
		opts: opts,
		log:  opts.Log.With().Str("component", "orchestrator").Logger(),
	}, nil
}

type result struct {
	path string
	err  error
}

// SubmitBatch downloads and validates every item of task. It returns nil when
// every item completed, otherwise a *types.BatchError listing each failed
// item, or the error that stopped the batch before any transfer started.
// A final progress event is emitted only on success.
func (o *Orchestrator) SubmitBatch(ctx context.Context, task types.DownloadTask) error {
	if task.ID == "" {
		return fmt.Errorf("%w: task id is required", types.ErrConfiguration)
	}
	log := o.log.With().Str("task", task.ID).Logger()
	log.Info().Int("items", len(task.Items)).Bool("resume", task.Resume).Msg("Start download task")
	start := time.Now()

	for i, item := range task.Items {
		if err := checkURL(item.URL); err != nil {
			return &types.ItemError{Index: i, URL: item.URL, Stage: "config", Err: err}
		}
	}

	headers, err := engine.ConvertHeaders(task.Headers)
	if err != nil {
		return err
	}

	root := o.opts.Root.DataRoot()
	paths, err := ResolvePaths(root, task.Items)
	if err != nil {
		return err
	}

	clients := make([]*engine.Client, len(task.Items))
	defer func() {
		for _, c := range clients {
			if c != nil {
				c.CloseIdleConnections()
			}
		}
	}()
	for i, item := range task.Items {
		c, err := engine.NewClient(item, headers, o.opts.Runtime, log)
		if err != nil {
			return &types.ItemError{Index: i, URL: item.URL, Stage: "config", Err: err}
		}
		clients[i] = c
	}

	sizes, err := o.probeSizes(ctx, task.Items, clients)
	if err != nil {
		return err
	}

	tracker := types.NewProgressTracker(task.ID, sizes)
	_, total := tracker.Total()
	log.Info().Uint64("total", total).Msg("Total download size")

	o.recordStart(task, paths)

	eventName := events.ProgressName(task.ID)
	results := o.transferAll(ctx, task, paths, clients, tracker, eventName, log)

	var failures []*types.ItemError
	for i, r := range results {
		if r.err != nil {
			failures = append(failures, &types.ItemError{Index: i, URL: task.Items[i].URL, Stage: "transfer", Err: r.err})
			o.recordItem(task.ID, i, terminalStatus(r.err), r.err)
		}
	}

	failures = append(failures, o.validateAll(ctx, task, results, log)...)

	if len(failures) > 0 {
		batchErr := &types.BatchError{TaskID: task.ID, Items: failures}
		o.recordFinish(task.ID, batchErr)
		log.Error().Err(batchErr).Int("failed", len(failures)).Msg("Download task failed")
		return batchErr
	}

	transferred, total := tracker.Total()
	o.opts.Emitter.Emit(eventName, events.DownloadEvent{Transferred: transferred, Total: total})
	o.recordFinish(task.ID, nil)
	log.Info().Dur("elapsed", time.Since(start)).Uint64("bytes", transferred).Msg("Download task completed")
	return nil
}

// probeSizes issues one HEAD per item before any transfer starts.
func (o *Orchestrator) probeSizes(ctx context.Context, items []types.DownloadItem, clients []*engine.Client) ([]int64, error) {
	sizes := make([]int64, len(items))
	for i, item := range items {
		pctx, cancel := context.WithTimeout(ctx, o.opts.Runtime.GetProbeTimeout())
		res, err := engine.ProbeServer(pctx, clients[i], item.URL)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				err = types.Canceled("probe")
			}
			return nil, &types.ItemError{Index: i, URL: item.URL, Stage: "probe", Err: err}
		}
		if !res.SupportsRange {
			o.opts.Log.Debug().Str("url", item.URL).Msg("Server does not advertise range support")
		}
		sizes[i] = res.FileSize
	}
	return sizes, nil
}

func (o *Orchestrator) transferAll(ctx context.Context, task types.DownloadTask, paths []string, clients []*engine.Client, tracker *types.ProgressTracker, eventName string, log zerolog.Logger) []result {
	results := make([]result, len(task.Items))

	var sem chan struct{}
	if o.opts.MaxParallel > 0 {
		sem = make(chan struct{}, o.opts.MaxParallel)
	}

	var wg sync.WaitGroup
	for i, item := range task.Items {
		wg.Add(1)
		go func(i int, item types.DownloadItem) {
			defer wg.Done()
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					results[i] = result{err: types.Canceled("download")}
					return
				}
			}

			dl := single.NewSingleDownloader(types.FileID(task.ID, i), clients[i], tracker, o.opts.Emitter, eventName, o.opts.Runtime, log)
			dl.ProtectedDir = o.opts.Root.DataRoot()
			dl.OnStatus = func(s types.ItemStatus) { o.recordItem(task.ID, i, s, nil) }

			path, err := dl.Download(ctx, item, paths[i], task.Resume)
			results[i] = result{path: path, err: err}
		}(i, item)
	}
	wg.Wait()
	return results
}

// validateAll validates every successful transfer concurrently. A failed
// validation removes the file; siblings are left alone.
func (o *Orchestrator) validateAll(ctx context.Context, task types.DownloadTask, results []result, log zerolog.Logger) []*types.ItemError {
	validator := &verify.Validator{Hasher: o.opts.Hasher, Emitter: o.opts.Emitter, Log: log}
	errs := make([]error, len(results))

	var wg sync.WaitGroup
	for i, r := range results {
		if r.err != nil {
			continue
		}
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			o.recordItem(task.ID, i, types.StatusValidating, nil)
			err := validator.Validate(ctx, task.Items[i], path)
			errs[i] = err
			switch {
			case err == nil:
				o.recordItem(task.ID, i, types.StatusCompleted, nil)
			case types.IsCanceled(err):
				o.recordItem(task.ID, i, types.StatusCancelled, err)
			default:
				o.removeArtifact(path, log)
				o.recordItem(task.ID, i, types.StatusFailed, err)
			}
		}(i, r.path)
	}
	wg.Wait()

	var failures []*types.ItemError
	for i, err := range errs {
		if err != nil {
			failures = append(failures, &types.ItemError{Index: i, URL: task.Items[i].URL, Stage: "validation", Err: err})
		}
	}
	return failures
}

// removeArtifact deletes a file that failed validation and its parent
// directory when that is now empty. The data root is never removed.
func (o *Orchestrator) removeArtifact(path string, log zerolog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("Failed to remove invalid file")
	}
	parent := filepath.Dir(path)
	root, err := filepath.Abs(o.opts.Root.DataRoot())
	if err != nil || filepath.Clean(parent) == filepath.Clean(root) {
		return
	}
	// Fails harmlessly when the directory still has other files.
	_ = os.Remove(parent)
}

func (o *Orchestrator) recordStart(task types.DownloadTask, paths []string) {
	if o.opts.History == nil {
		return
	}
	if err := o.opts.History.StartTask(task.ID, task.Items, paths); err != nil {
		o.log.Warn().Err(err).Str("task", task.ID).Msg("Failed to record task")
	}
}

func (o *Orchestrator) recordItem(taskID string, index int, status types.ItemStatus, err error) {
	if o.opts.History == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if herr := o.opts.History.SetItemStatus(taskID, index, status, msg); herr != nil {
		o.log.Warn().Err(herr).Str("task", taskID).Int("item", index).Msg("Failed to record item status")
	}
}

func (o *Orchestrator) recordFinish(taskID string, err error) {
	if o.opts.History == nil {
		return
	}
	if herr := o.opts.History.FinishTask(taskID, err); herr != nil {
		o.log.Warn().Err(herr).Str("task", taskID).Msg("Failed to record task result")
	}
}

func terminalStatus(err error) types.ItemStatus {
	if types.IsCanceled(err) {
		return types.StatusCancelled
	}
	return types.StatusFailed
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid URL %q: %v", types.ErrConfiguration, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: unsupported URL %q", types.ErrConfiguration, raw)
	}
	return nil
}
