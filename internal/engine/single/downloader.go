// Package single streams one item to disk with resume support.
package single

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/weightfetch/weightfetch/internal/engine"
	"github.com/weightfetch/weightfetch/internal/engine/events"
	"github.com/weightfetch/weightfetch/internal/engine/types"
)

// SingleDownloader transfers one item of a task. It owns the item's
// temp/marker/final triplet for the duration of Download.
type SingleDownloader struct {
	FileID    string
	Client    *engine.Client
	Tracker   *types.ProgressTracker
	Emitter   events.Emitter
	EventName string
	Runtime   *types.RuntimeConfig

	// ProtectedDir is never removed by cancellation cleanup, even when it is
	// the destination's parent.
	ProtectedDir string

	// OnStatus, if set, observes the item's lifecycle transitions.
	OnStatus func(types.ItemStatus)

	Log zerolog.Logger

	State types.FileTransferState
}

// NewSingleDownloader creates a downloader for the file fileID of a task.
func NewSingleDownloader(fileID string, client *engine.Client, tracker *types.ProgressTracker, emitter events.Emitter, eventName string, runtime *types.RuntimeConfig, log zerolog.Logger) *SingleDownloader {
	if emitter == nil {
		emitter = events.Discard
	}
	return &SingleDownloader{
		FileID:    fileID,
		Client:    client,
		Tracker:   tracker,
		Emitter:   emitter,
		EventName: eventName,
		Runtime:   runtime,
		Log:       log.With().Str("file_id", fileID).Logger(),
	}
}

// SidecarPaths returns the temp and marker paths for destPath.
func SidecarPaths(destPath string) (tempPath, markerPath string) {
	return destPath + types.TempSuffix, destPath + types.URLSuffix
}

// Download fetches item into destPath and returns destPath once the temp file
// has been renamed into place. When resume is set and destPath's temp file
// was started from the same URL, the transfer continues from its length.
func (d *SingleDownloader) Download(ctx context.Context, item types.DownloadItem, destPath string, resume bool) (string, error) {
	tmpPath, markerPath := SidecarPaths(destPath)
	d.State = types.FileTransferState{
		FileID:     d.FileID,
		TempPath:   tmpPath,
		MarkerPath: markerPath,
		FinalPath:  destPath,
	}
	if _, total, ok := d.Tracker.Get(d.FileID); ok {
		d.State.RemoteSize = int64(total)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	var offset int64
	if resume && sameSource(markerPath, item.URL) {
		if info, err := os.Stat(tmpPath); err == nil {
			offset = info.Size()
		}
	}

	if err := os.WriteFile(markerPath, []byte(item.URL), 0o644); err != nil {
		return "", fmt.Errorf("failed to write url marker: %w", err)
	}

	d.Log.Info().Str("url", item.URL).Msg("Started downloading")

	resp, err := d.open(ctx, item.URL, &offset)
	d.State.Resumed = offset > 0
	if err != nil {
		if types.IsCanceled(err) {
			d.discard(destPath, tmpPath, markerPath)
			d.Log.Info().Str("url", item.URL).Bool("resumed", d.State.Resumed).Msg("Download cancelled")
		}
		return "", err
	}
	defer resp.Body.Close()

	d.setStatus(types.StatusTransferring)

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if d.State.Resumed {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(tmpPath, flags, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to open temp file: %w", err)
	}

	written, err := d.stream(ctx, resp.Body, f, offset)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close temp file: %w", cerr)
	}
	d.State.Transferred = written
	if err != nil {
		if types.IsCanceled(err) {
			d.discard(destPath, tmpPath, markerPath)
			d.Log.Info().Str("url", item.URL).Bool("resumed", d.State.Resumed).Msg("Download cancelled")
		}
		return "", err
	}

	d.report(written)

	if err := moveFile(tmpPath, destPath); err != nil {
		return "", fmt.Errorf("failed to finalize download: %w", err)
	}
	if err := os.Remove(markerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to remove url marker: %w", err)
	}

	d.setStatus(types.StatusTransferred)
	d.Log.Info().Str("url", item.URL).Int64("bytes", written).Msg("Finished downloading")
	return destPath, nil
}

// open issues the ranged request when *offset > 0 and falls back to a full
// request, resetting *offset, when the server cannot resume.
func (d *SingleDownloader) open(ctx context.Context, rawurl string, offset *int64) (*http.Response, error) {
	if *offset > 0 {
		d.setStatus(types.StatusResumeProbe)
		resp, err := engine.Get(ctx, d.Client, rawurl, *offset)
		if err == nil {
			d.Log.Info().Str("url", rawurl).Int64("offset", *offset).Msg("Resuming download")
			d.report(*offset)
			return resp, nil
		}
		if types.IsCanceled(err) {
			return nil, err
		}
		d.Log.Warn().Err(err).Str("url", rawurl).Msg("Failed to resume download, starting over")
		*offset = 0
	}
	return engine.Get(ctx, d.Client, rawurl, 0)
}

// stream copies body into w, reporting progress every step bytes. It returns
// the total length of the temp file, including any resumed prefix.
func (d *SingleDownloader) stream(ctx context.Context, body io.Reader, w io.Writer, offset int64) (int64, error) {
	bufSize := d.Runtime.GetWorkerBufferSize()
	step := d.Runtime.GetProgressReportStep()

	bw := bufio.NewWriterSize(w, bufSize)
	buf := make([]byte, bufSize)
	total := offset
	var delta int64

	for {
		if ctx.Err() != nil {
			return total, types.Canceled("download")
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if _, err := bw.Write(buf[:n]); err != nil {
				return total, fmt.Errorf("failed to write temp file: %w", err)
			}
			total += int64(n)
			delta += int64(n)
			if delta >= step {
				d.report(total)
				delta = 0
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return total, types.Canceled("download")
			}
			return total, fmt.Errorf("%w: reading response body: %v", types.ErrTransport, rerr)
		}
	}

	if err := bw.Flush(); err != nil {
		return total, fmt.Errorf("failed to flush temp file: %w", err)
	}
	return total, nil
}

// report stores this file's progress and emits the task aggregate.
func (d *SingleDownloader) report(transferred int64) {
	d.Tracker.Update(d.FileID, transferred)
	done, total := d.Tracker.Total()
	d.Emitter.Emit(d.EventName, events.DownloadEvent{Transferred: done, Total: total})
}

func (d *SingleDownloader) setStatus(s types.ItemStatus) {
	if d.OnStatus != nil {
		d.OnStatus(s)
	}
}

// discard cleans up after a cancelled transfer. A resumed transfer keeps its
// partial bytes; a fresh one loses the destination's parent directory.
func (d *SingleDownloader) discard(destPath, tmpPath, markerPath string) {
	if d.State.Resumed {
		return
	}
	parent := filepath.Dir(destPath)
	if d.isProtected(parent) {
		_ = os.Remove(tmpPath)
		_ = os.Remove(markerPath)
		return
	}
	if err := os.RemoveAll(parent); err != nil {
		d.Log.Warn().Err(err).Str("dir", parent).Msg("Failed to remove directory after cancellation")
	}
}

func (d *SingleDownloader) isProtected(dir string) bool {
	if d.ProtectedDir == "" {
		return false
	}
	a, err1 := filepath.Abs(dir)
	b, err2 := filepath.Abs(d.ProtectedDir)
	if err1 != nil || err2 != nil {
		return true
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

// sameSource reports whether markerPath records rawurl.
func sameSource(markerPath, rawurl string) bool {
	data, err := os.ReadFile(markerPath)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == rawurl
}
