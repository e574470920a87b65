package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/weightfetch/weightfetch/internal/config"
	"github.com/weightfetch/weightfetch/internal/download"
	"github.com/weightfetch/weightfetch/internal/engine/events"
	"github.com/weightfetch/weightfetch/internal/engine/state"
	"github.com/weightfetch/weightfetch/internal/engine/types"
	"github.com/weightfetch/weightfetch/internal/ui"
	"github.com/weightfetch/weightfetch/internal/utils"
)

// taskView is the printable form of a recorded task.
type taskView struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Items      []itemView `json:"items,omitempty"`
}

type itemView struct {
	Index    int    `json:"index"`
	URL      string `json:"url"`
	Path     string `json:"path"`
	Status   string `json:"status"`
	Size     int64  `json:"size,omitempty"`
	MIME     string `json:"mime,omitempty"`
	Error    string `json:"error,omitempty"`
	Expected *int64 `json:"expected_size,omitempty"`
}

func newTaskView(rec *state.TaskRecord) taskView {
	v := taskView{
		ID:        rec.ID,
		Status:    rec.Status,
		Error:     rec.Error,
		CreatedAt: rec.CreatedAt,
	}
	if !rec.FinishedAt.IsZero() {
		t := rec.FinishedAt
		v.FinishedAt = &t
	}
	for _, it := range rec.Items {
		v.Items = append(v.Items, itemView{
			Index:    it.Index,
			URL:      it.URL,
			Path:     it.DestPath,
			Status:   string(it.Status),
			Size:     it.Size,
			MIME:     it.MIME,
			Error:    it.Error,
			Expected: it.ExpectedSize,
		})
	}
	return v
}

// runTask submits task against the configured data root, rendering progress
// and recording history, then prints the per-item outcome.
func (a *app) runTask(cmd *cobra.Command, task types.DownloadTask) error {
	root, err := a.dataRoot()
	if err != nil {
		return err
	}
	lock, err := acquireLock(root)
	if err != nil {
		return err
	}
	defer releaseLock(lock)

	store, err := state.Open(config.GetHistoryDBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	var (
		emitter  events.Emitter
		progress *ui.Progress
		stream   *events.ChannelEmitter
		drained  = make(chan struct{})
	)
	if a.jsonOut {
		jsonEmitter := events.NewJSONEmitter(out)
		emitter = jsonEmitter
		defer func() {
			if err := jsonEmitter.Err(); err != nil {
				utils.Debug("Event output failed: %v", err)
			}
		}()
		close(drained)
	} else {
		errOut := cmd.ErrOrStderr()
		progress = ui.NewProgress(errOut, shortID(task.ID), !isTerminal(errOut))
		stream = events.NewChannelEmitter(256)
		emitter = stream
		go func() {
			progress.Consume(stream.Events())
			close(drained)
		}()
	}

	orch, err := download.New(download.Options{
		Root:        download.StaticRoot(root),
		Emitter:     emitter,
		History:     store,
		Runtime:     types.ConvertRuntimeConfig(a.settings.ToRuntimeConfig()),
		Log:         utils.GetLogger("download"),
		MaxParallel: a.settings.Network.MaxConcurrentDownloads,
	})
	if err != nil {
		return err
	}

	runErr := orch.SubmitBatch(ctx, task)
	if stream != nil {
		stream.Close()
		<-drained
		progress.Finish(runErr == nil)
	}

	rec, err := store.GetTask(task.ID)
	if err != nil {
		utils.Debug("Failed to load task %s: %v", task.ID, err)
	}
	if rec != nil {
		a.printTask(out, root, rec)
	}
	return runErr
}

func (a *app) printTask(w io.Writer, root string, rec *state.TaskRecord) {
	if a.jsonOut {
		_ = json.NewEncoder(w).Encode(newTaskView(rec))
		return
	}
	for _, it := range rec.Items {
		rel, err := filepath.Rel(root, it.DestPath)
		if err != nil {
			rel = it.DestPath
		}
		line := fmt.Sprintf("%s %s", ui.Status(string(it.Status), 11), rel)
		if it.Status == types.StatusCompleted && it.Size > 0 {
			line += ui.LabelStyle.Render(fmt.Sprintf("  %s %s", utils.ConvertBytesToHumanReadable(it.Size), it.MIME))
		}
		if it.Error != "" {
			line += "  " + ui.ErrorStyle.Render(it.Error)
		}
		fmt.Fprintln(w, line)
	}
	if rec.Status == state.TaskCompleted {
		fmt.Fprintln(w, ui.Success("task %s completed", ui.IDStyle.Render(rec.ID)))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
