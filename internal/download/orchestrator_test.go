package download

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weightfetch/weightfetch/internal/engine/events"
	"github.com/weightfetch/weightfetch/internal/engine/types"
	"github.com/weightfetch/weightfetch/internal/testutil"
)

func int64Ptr(v int64) *int64 { return &v }

type fakeHistory struct {
	mu       sync.Mutex
	started  []string
	statuses map[int][]types.ItemStatus
	finished map[string]error
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{statuses: make(map[int][]types.ItemStatus), finished: make(map[string]error)}
}

func (h *fakeHistory) StartTask(taskID string, items []types.DownloadItem, paths []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = append(h.started, taskID)
	for i := range items {
		h.statuses[i] = append(h.statuses[i], types.StatusPending)
	}
	return nil
}

func (h *fakeHistory) SetItemStatus(taskID string, index int, status types.ItemStatus, errMsg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses[index] = append(h.statuses[index], status)
	return nil
}

func (h *fakeHistory) FinishTask(taskID string, err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished[taskID] = err
	return nil
}

func (h *fakeHistory) last(index int) types.ItemStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.statuses[index]
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

type harness struct {
	srv     *testutil.Server
	rec     *events.Recorder
	history *fakeHistory
	root    string
	orch    *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := testutil.NewServer()
	t.Cleanup(srv.Close)

	h := &harness{srv: srv, rec: &events.Recorder{}, history: newFakeHistory(), root: t.TempDir()}
	orch, err := New(Options{
		Root:    StaticRoot(h.root),
		Emitter: h.rec,
		History: h.history,
		Log:     zerolog.Nop(),
	})
	require.NoError(t, err)
	h.orch = orch
	return h
}

func (h *harness) path(rel string) string {
	return filepath.Join(h.root, filepath.FromSlash(rel))
}

func TestNew_RequiresRoot(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestSubmitBatch_Success(t *testing.T) {
	h := newHarness(t)
	a, b := testutil.PatternBytes(500), testutil.RandomBytes(1500)
	task := types.DownloadTask{
		ID: "t1",
		Items: []types.DownloadItem{
			{URL: h.srv.AddFile("/a.bin", a), SavePath: "models/m/a.bin", Size: int64Ptr(500), SHA256: testutil.SHA256Hex(a)},
			{URL: h.srv.AddFile("/b.bin", b), SavePath: "models/m/b.bin", SHA256: testutil.SHA256Hex(b)},
		},
	}

	require.NoError(t, h.orch.SubmitBatch(context.Background(), task))

	for rel, want := range map[string][]byte{"models/m/a.bin": a, "models/m/b.bin": b} {
		got, err := os.ReadFile(h.path(rel))
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NoFileExists(t, h.path(rel)+".tmp")
		assert.NoFileExists(t, h.path(rel)+".url")
	}

	last, ok := h.rec.Last()
	require.True(t, ok)
	assert.Equal(t, events.DownloadEvent{Transferred: 2000, Total: 2000}, last)

	// Both HEADs precede every GET.
	reqs := h.srv.Requests()
	require.Len(t, reqs, 4)
	assert.Equal(t, http.MethodHead, reqs[0].Method)
	assert.Equal(t, http.MethodHead, reqs[1].Method)

	var validations int
	for _, e := range h.rec.Events() {
		if e.Kind == events.KindValidationStarted {
			validations++
			assert.Equal(t, events.ValidationStarted{ModelID: "m", DownloadType: "Model"}, e.Payload)
		}
	}
	assert.Equal(t, 2, validations)

	assert.Equal(t, types.StatusCompleted, h.history.last(0))
	assert.Equal(t, types.StatusCompleted, h.history.last(1))
	assert.Contains(t, h.history.finished, "t1")
	assert.NoError(t, h.history.finished["t1"])
}

func TestSubmitBatch_ForwardsHeaders(t *testing.T) {
	h := newHarness(t)
	task := types.DownloadTask{
		ID:      "t",
		Headers: map[string]string{"Authorization": "Bearer hf_token"},
		Items:   []types.DownloadItem{{URL: h.srv.AddFile("/f", []byte("abc")), SavePath: "x/f"}},
	}
	require.NoError(t, h.orch.SubmitBatch(context.Background(), task))

	for _, r := range h.srv.Requests() {
		assert.Equal(t, "Bearer hf_token", r.Header.Get("Authorization"), r.Method)
	}
}

func TestSubmitBatch_TraversalRejectedBeforeNetwork(t *testing.T) {
	h := newHarness(t)
	for _, bad := range []string{"../outside.bin", "models/../../outside.bin", "/etc/passwd", ""} {
		task := types.DownloadTask{
			ID: "t",
			Items: []types.DownloadItem{
				{URL: h.srv.AddFile("/ok", []byte("ok")), SavePath: "models/ok"},
				{URL: h.srv.AddFile("/evil", []byte("evil")), SavePath: bad},
			},
		}
		err := h.orch.SubmitBatch(context.Background(), task)
		require.Error(t, err, bad)
		assert.ErrorIs(t, err, types.ErrPathSecurity, bad)
	}
	assert.Empty(t, h.srv.Requests())
	assert.NoFileExists(t, filepath.Join(filepath.Dir(h.root), "outside.bin"))
}

func TestSubmitBatch_DuplicateDestination(t *testing.T) {
	h := newHarness(t)
	task := types.DownloadTask{
		ID: "t",
		Items: []types.DownloadItem{
			{URL: h.srv.AddFile("/a", []byte("a")), SavePath: "m/file"},
			{URL: h.srv.AddFile("/b", []byte("b")), SavePath: "m/./file"},
		},
	}
	err := h.orch.SubmitBatch(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrPathSecurity)
	assert.Contains(t, err.Error(), "same destination")
	assert.Empty(t, h.srv.Requests())
}

func TestSubmitBatch_DestinationOverlapsSidecar(t *testing.T) {
	h := newHarness(t)
	big, small := testutil.PatternBytes(4096), []byte("tiny")
	task := types.DownloadTask{
		ID: "t",
		Items: []types.DownloadItem{
			{URL: h.srv.AddFile("/big", big), SavePath: "m/w.bin"},
			{URL: h.srv.AddFile("/small", small), SavePath: "m/w.bin.tmp", Size: int64Ptr(4)},
		},
	}
	err := h.orch.SubmitBatch(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrPathSecurity)

	var ie *types.ItemError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 1, ie.Index)
	assert.Empty(t, h.srv.Requests())
	assert.NoFileExists(t, h.path("m/w.bin"))
}

func TestSubmitBatch_InvalidConfiguration(t *testing.T) {
	h := newHarness(t)
	url := h.srv.AddFile("/a", []byte("a"))

	cases := map[string]types.DownloadTask{
		"no id":       {Items: []types.DownloadItem{{URL: url, SavePath: "a"}}},
		"bad url":     {ID: "t", Items: []types.DownloadItem{{URL: "ftp://host/a", SavePath: "a"}}},
		"bad header":  {ID: "t", Headers: map[string]string{"bad name": "v"}, Items: []types.DownloadItem{{URL: url, SavePath: "a"}}},
		"bad proxy":   {ID: "t", Items: []types.DownloadItem{{URL: url, SavePath: "a", Proxy: &types.ProxyConfig{URL: "ftp://proxy"}}}},
		"half creds":  {ID: "t", Items: []types.DownloadItem{{URL: url, SavePath: "a", Proxy: &types.ProxyConfig{URL: "http://proxy:1", Username: strPtr("u")}}}},
		"socks4":      {ID: "t", Items: []types.DownloadItem{{URL: url, SavePath: "a", Proxy: &types.ProxyConfig{URL: "socks4://proxy:1080"}}}},
		"empty entry": {ID: "t", Items: []types.DownloadItem{{URL: url, SavePath: "a", Proxy: &types.ProxyConfig{URL: "http://proxy:1", NoProxy: []string{""}}}}},
	}
	for name, task := range cases {
		t.Run(name, func(t *testing.T) {
			err := h.orch.SubmitBatch(context.Background(), task)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrConfiguration)
		})
	}
	assert.Empty(t, h.srv.Requests())
}

func TestSubmitBatch_ConfigStage(t *testing.T) {
	h := newHarness(t)
	url := h.srv.AddFile("/a", []byte("a"))
	for _, item := range []types.DownloadItem{
		{URL: "ftp://host/a", SavePath: "b"},
		{URL: url, SavePath: "b", Proxy: &types.ProxyConfig{URL: "socks4://proxy:1080"}},
	} {
		task := types.DownloadTask{ID: "t", Items: []types.DownloadItem{{URL: url, SavePath: "a"}, item}}
		err := h.orch.SubmitBatch(context.Background(), task)

		var ie *types.ItemError
		require.ErrorAs(t, err, &ie, item.URL)
		assert.Equal(t, 1, ie.Index)
		assert.Equal(t, "config", ie.Stage)
	}
	assert.Empty(t, h.srv.Requests())
}

func strPtr(s string) *string { return &s }

func TestSubmitBatch_SizeMismatchRemovesOnlyThatFile(t *testing.T) {
	h := newHarness(t)
	a, b := testutil.PatternBytes(100), testutil.PatternBytes(200)
	task := types.DownloadTask{
		ID: "t",
		Items: []types.DownloadItem{
			{URL: h.srv.AddFile("/a", a), SavePath: "m/a.bin", Size: int64Ptr(101)},
			{URL: h.srv.AddFile("/b", b), SavePath: "m/b.bin", Size: int64Ptr(200)},
		},
	}

	err := h.orch.SubmitBatch(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSizeMismatch)
	assert.Contains(t, err.Error(), "expected 101 bytes but got 100 bytes")

	var be *types.BatchError
	require.True(t, errors.As(err, &be))
	require.Len(t, be.Items, 1)
	assert.Equal(t, 0, be.Items[0].Index)
	assert.Equal(t, "validation", be.Items[0].Stage)

	assert.NoFileExists(t, h.path("m/a.bin"))
	assert.FileExists(t, h.path("m/b.bin"))
	assert.DirExists(t, h.path("m"))

	assert.Equal(t, types.StatusFailed, h.history.last(0))
	assert.Equal(t, types.StatusCompleted, h.history.last(1))
	assert.Error(t, h.history.finished["t"])

	// Only the per-transfer events; no final aggregate on failure.
	assert.Len(t, h.rec.Progress(), 2)
}

func TestSubmitBatch_HashMismatchRemovesFileAndEmptyParent(t *testing.T) {
	h := newHarness(t)
	a, b := testutil.PatternBytes(100), testutil.PatternBytes(50)
	task := types.DownloadTask{
		ID: "t",
		Items: []types.DownloadItem{
			{URL: h.srv.AddFile("/a", a), SavePath: "bad/a.bin", SHA256: strings.Repeat("0", 64)},
			{URL: h.srv.AddFile("/b", b), SavePath: "good/b.bin", SHA256: testutil.SHA256Hex(b)},
		},
	}

	err := h.orch.SubmitBatch(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrHashMismatch)
	assert.NotContains(t, err.Error(), testutil.SHA256Hex(a))

	assert.NoFileExists(t, h.path("bad/a.bin"))
	assert.NoDirExists(t, h.path("bad"))
	assert.FileExists(t, h.path("good/b.bin"))
	assert.DirExists(t, h.root)
}

func TestSubmitBatch_ValidationFailureAtRootKeepsRoot(t *testing.T) {
	h := newHarness(t)
	task := types.DownloadTask{
		ID:    "t",
		Items: []types.DownloadItem{{URL: h.srv.AddFile("/a", []byte("abc")), SavePath: "a.bin", Size: int64Ptr(4)}},
	}
	require.Error(t, h.orch.SubmitBatch(context.Background(), task))
	assert.NoFileExists(t, h.path("a.bin"))
	assert.DirExists(t, h.root)
}

func TestSubmitBatch_AllValidationFailuresReported(t *testing.T) {
	h := newHarness(t)
	task := types.DownloadTask{
		ID: "t",
		Items: []types.DownloadItem{
			{URL: h.srv.AddFile("/a", []byte("aaaa")), SavePath: "a/a", Size: int64Ptr(1)},
			{URL: h.srv.AddFile("/b", []byte("bbbb")), SavePath: "b/b", SHA256: strings.Repeat("f", 64)},
		},
	}

	err := h.orch.SubmitBatch(context.Background(), task)
	require.Error(t, err)

	var be *types.BatchError
	require.True(t, errors.As(err, &be))
	require.Len(t, be.Items, 2)
	assert.ErrorIs(t, err, types.ErrSizeMismatch)
	assert.ErrorIs(t, err, types.ErrHashMismatch)
	assert.Contains(t, err.Error(), "and 1 more")
	assert.ErrorIs(t, be.First(), types.ErrSizeMismatch)
}

func TestSubmitBatch_TransferFailure(t *testing.T) {
	h := newHarness(t)
	good := testutil.PatternBytes(300)
	task := types.DownloadTask{
		ID: "t",
		Items: []types.DownloadItem{
			{URL: h.srv.AddFile("/good", good), SavePath: "g/good", Size: int64Ptr(300)},
			{URL: h.srv.AddFile("/bad", []byte("x")), SavePath: "b/bad"},
		},
	}
	h.srv.FailGetWith("/bad", http.StatusInternalServerError)

	err := h.orch.SubmitBatch(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTransport)
	assert.Contains(t, err.Error(), "failed to download: HTTP status 500")

	var be *types.BatchError
	require.True(t, errors.As(err, &be))
	require.Len(t, be.Items, 1)
	assert.Equal(t, 1, be.Items[0].Index)
	assert.Equal(t, "transfer", be.Items[0].Stage)

	// The sibling was still awaited and validated.
	assert.FileExists(t, h.path("g/good"))
	assert.Equal(t, types.StatusCompleted, h.history.last(0))
	assert.Equal(t, types.StatusFailed, h.history.last(1))
}

func TestSubmitBatch_ProbeFailureStopsBeforeTransfer(t *testing.T) {
	h := newHarness(t)
	task := types.DownloadTask{
		ID: "t",
		Items: []types.DownloadItem{
			{URL: h.srv.AddFile("/ok", []byte("ok")), SavePath: "a/ok"},
			{URL: h.srv.AddFile("/gated", []byte("x")), SavePath: "a/gated"},
		},
	}
	h.srv.FailWith("/gated", http.StatusUnauthorized)

	err := h.orch.SubmitBatch(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTransport)

	var ie *types.ItemError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "probe", ie.Stage)
	assert.Equal(t, 0, h.srv.CountRequests(http.MethodGet))
	assert.Empty(t, h.history.started)
}

func TestSubmitBatch_MissingContentLength(t *testing.T) {
	h := newHarness(t)
	h.srv.OmitLength(true)
	task := types.DownloadTask{
		ID:    "t",
		Items: []types.DownloadItem{{URL: h.srv.AddFile("/f", testutil.PatternBytes(64)), SavePath: "d/f"}},
	}

	require.NoError(t, h.orch.SubmitBatch(context.Background(), task))
	last, ok := h.rec.Last()
	require.True(t, ok)
	assert.Equal(t, uint64(0), last.Total)
	assert.Equal(t, uint64(64), last.Transferred)
}

func TestSubmitBatch_Resume(t *testing.T) {
	h := newHarness(t)
	data := testutil.PatternBytes(1000)
	url := h.srv.AddFile("/model.bin", data)
	dest := h.path("models/m/model.bin")
	require.NoError(t, testutil.CreatePartialFile(dest, data, 600, url))

	task := types.DownloadTask{
		ID:     "t",
		Resume: true,
		Items:  []types.DownloadItem{{URL: url, SavePath: "models/m/model.bin", Size: int64Ptr(1000), SHA256: testutil.SHA256Hex(data)}},
	}
	require.NoError(t, h.orch.SubmitBatch(context.Background(), task))

	var ranges []string
	for _, r := range h.srv.Requests() {
		if r.Method == http.MethodGet {
			ranges = append(ranges, r.Range)
		}
	}
	assert.Equal(t, []string{"bytes=600-"}, ranges)

	progress := h.rec.Progress()
	require.NotEmpty(t, progress)
	assert.Equal(t, events.DownloadEvent{Transferred: 600, Total: 1000}, progress[0])
	assert.Equal(t, events.DownloadEvent{Transferred: 1000, Total: 1000}, progress[len(progress)-1])
	assert.Contains(t, h.history.statuses[0], types.StatusResumeProbe)
}

func TestSubmitBatch_Cancel(t *testing.T) {
	h := newHarness(t)
	url := h.srv.AddFile("/big", testutil.PatternBytes(4096))
	stalled := h.srv.StallAfter(1024)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.orch.SubmitBatch(ctx, types.DownloadTask{
			ID:    "t",
			Items: []types.DownloadItem{{URL: url, SavePath: "models/big/w.bin", Size: int64Ptr(4096)}},
		})
	}()

	select {
	case <-stalled:
	case <-time.After(5 * time.Second):
		t.Fatal("transfer never started")
	}
	cancel()

	var err error
	select {
	case err = <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not stop after cancellation")
	}
	require.Error(t, err)
	assert.True(t, types.IsCanceled(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, types.ErrValidation)
	assert.NoDirExists(t, h.path("models/big"))
	assert.Equal(t, types.StatusCancelled, h.history.last(0))
}

func TestSubmitBatch_MaxParallel(t *testing.T) {
	h := newHarness(t)
	h.orch.opts.MaxParallel = 1

	var items []types.DownloadItem
	for _, name := range []string{"a", "b", "c"} {
		data := testutil.PatternBytes(128)
		items = append(items, types.DownloadItem{
			URL:      h.srv.AddFile("/"+name, data),
			SavePath: "p/" + name,
			SHA256:   testutil.SHA256Hex(data),
		})
	}
	require.NoError(t, h.orch.SubmitBatch(context.Background(), types.DownloadTask{ID: "t", Items: items}))

	last, _ := h.rec.Last()
	assert.Equal(t, events.DownloadEvent{Transferred: 384, Total: 384}, last)
}

func TestSubmitBatch_EmptyTask(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.SubmitBatch(context.Background(), types.DownloadTask{ID: "empty"}))
	last, ok := h.rec.Last()
	require.True(t, ok)
	assert.Equal(t, events.DownloadEvent{}, last)
}
