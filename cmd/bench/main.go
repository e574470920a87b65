package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/weightfetch/weightfetch/internal/benchmark"
	"github.com/weightfetch/weightfetch/internal/download"
	"github.com/weightfetch/weightfetch/internal/engine/types"
	"github.com/weightfetch/weightfetch/internal/utils"
)

var (
	flagServer = flag.Bool("server", false, "Run as benchmark server only")
	flagPort   = flag.Int("port", 0, "Port to listen on (0 for random)")
	flagSize   = flag.String("size", "2GB", "File size to serve (e.g. 500MB, 2GB)")
	flagItems  = flag.Int("items", 1, "Number of files downloaded in parallel")
	flagBuffer = flag.String("buffer", "4MB", "Per-transfer I/O buffer")
)

func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)
	multiplier := int64(1)
	if strings.HasSuffix(s, "GB") {
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	} else if strings.HasSuffix(s, "MB") {
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	} else if strings.HasSuffix(s, "KB") {
		multiplier = 1024
		s = strings.TrimSuffix(s, "KB")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return val * multiplier, nil
}

func main() {
	flag.Parse()
	utils.InitLogger(false)

	fileSize, err := parseSize(*flagSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid size: %v\n", err)
		os.Exit(1)
	}
	bufSize, err := parseSize(*flagBuffer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid buffer: %v\n", err)
		os.Exit(1)
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeContent(w, r, "bench.bin", time.Now(), &ZeroReader{Size: fileSize})
	})

	if *flagServer {
		addr := fmt.Sprintf("127.0.0.1:%d", *flagPort)
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to listen: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Server listening on http://%s/bench.bin\n", listener.Addr().String())
		if err := http.Serve(listener, handler); err != nil {
			fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ts := httptest.NewServer(handler)
	defer ts.Close()
	fmt.Printf("Benchmark Server running at %s\n", ts.URL)

	// Write to /dev/shm to keep disk I/O out of the measurement.
	baseDir := "/dev/shm"
	if _, err := os.Stat(baseDir); err != nil {
		baseDir = os.TempDir()
	}
	root, err := os.MkdirTemp(baseDir, "weightfetch-bench-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data root: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(root)

	metrics := benchmark.NewMetrics()
	orch, err := download.New(download.Options{
		Root:    download.StaticRoot(root),
		Emitter: metrics,
		Runtime: &types.RuntimeConfig{WorkerBufferSize: int(bufSize)},
		Log:     utils.GetLogger("bench"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create orchestrator: %v\n", err)
		os.Exit(1)
	}

	task := types.DownloadTask{ID: "bench"}
	for i := 0; i < *flagItems; i++ {
		task.Items = append(task.Items, types.DownloadItem{
			URL:      fmt.Sprintf("%s/bench-%d.bin", ts.URL, i),
			SavePath: fmt.Sprintf("bench/part-%d.bin", i),
			Size:     &fileSize,
		})
	}

	fmt.Printf("Downloading %d x %s to %s...\n", *flagItems, utils.ConvertBytesToHumanReadable(fileSize), root)
	if err := orch.SubmitBatch(context.Background(), task); err != nil {
		fmt.Fprintf(os.Stderr, "Download failed: %v\n", err)
		os.Exit(1)
	}
	metrics.Finish()
	fmt.Print(metrics.GetResults())
}

// ZeroReader implements io.ReadSeeker for zeros
type ZeroReader struct {
	Size int64
	pos  int64
}

func (z *ZeroReader) Read(p []byte) (n int, err error) {
	if z.pos >= z.Size {
		return 0, io.EOF
	}
	remaining := z.Size - z.pos
	if int64(len(p)) > remaining {
		n = int(remaining)
	} else {
		n = len(p)
	}
	clear(p[:n])
	z.pos += int64(n)
	return n, nil
}

func (z *ZeroReader) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = z.pos + offset
	case io.SeekEnd:
		newPos = z.Size + offset
	}
	if newPos < 0 {
		return 0, fmt.Errorf("invalid seek")
	}
	z.pos = newPos
	return newPos, nil
}
