package cmd

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/weightfetch/weightfetch/internal/engine"
	"github.com/weightfetch/weightfetch/internal/engine/types"
	"github.com/weightfetch/weightfetch/internal/utils"
)

// nameLookupTimeout bounds the HEAD request that asks the server for a file
// name when --output is not given.
const nameLookupTimeout = 15 * time.Second

type getOptions struct {
	output    string
	dir       string
	sha256    string
	size      int64
	headers   []string
	taskID    string
	noResume  bool
	proxyURL  string
	proxyUser string
	proxyPass string
	noProxy   []string
}

func newGetCmd(a *app) *cobra.Command {
	var opts getOptions

	cmd := &cobra.Command{
		Use:   "get <url>...",
		Short: "Download one or more files into the data root",
		Example: `  weightfetch get https://host/llama/model.safetensors --dir llama --sha256 <hex>
  weightfetch get https://host/a.bin https://host/b.bin --header "Authorization: Bearer $TOKEN"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := a.buildGetTask(cmd, args, opts)
			if err != nil {
				return err
			}
			return a.runTask(cmd, task)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "", "save path relative to the data root (single URL only)")
	f.StringVarP(&opts.dir, "dir", "d", "", "directory under the data root to save into")
	f.StringVar(&opts.sha256, "sha256", "", "expected SHA-256 of the file (single URL only)")
	f.Int64Var(&opts.size, "size", 0, "expected size in bytes (single URL only)")
	f.StringArrayVarP(&opts.headers, "header", "H", nil, `request header as "Key: Value", repeatable`)
	f.StringVar(&opts.taskID, "task-id", "", "task id to record the download under (default: random)")
	f.BoolVar(&opts.noResume, "no-resume", false, "discard partial files instead of resuming them")
	f.StringVar(&opts.proxyURL, "proxy", "", "proxy URL (http, https or socks5)")
	f.StringVar(&opts.proxyUser, "proxy-user", "", "proxy username")
	f.StringVar(&opts.proxyPass, "proxy-pass", "", "proxy password")
	f.StringSliceVar(&opts.noProxy, "no-proxy", nil, "hosts that bypass the proxy")
	return cmd
}

func (a *app) buildGetTask(cmd *cobra.Command, args []string, opts getOptions) (types.DownloadTask, error) {
	sizeSet := cmd.Flags().Changed("size")
	if len(args) > 1 && (opts.output != "" || opts.sha256 != "" || sizeSet) {
		return types.DownloadTask{}, fmt.Errorf("--output, --sha256 and --size need exactly one URL")
	}
	if sizeSet && opts.size < 0 {
		return types.DownloadTask{}, fmt.Errorf("--size must not be negative")
	}

	headers, err := parseHeaders(opts.headers)
	if err != nil {
		return types.DownloadTask{}, err
	}

	proxyCfg := a.defaultProxy()
	if opts.proxyURL != "" {
		proxyCfg = &types.ProxyConfig{URL: opts.proxyURL, NoProxy: a.settings.Network.NoProxy}
	}
	if proxyCfg != nil {
		if len(opts.noProxy) > 0 {
			proxyCfg.NoProxy = opts.noProxy
		}
		if opts.proxyUser != "" || opts.proxyPass != "" {
			user, pass := opts.proxyUser, opts.proxyPass
			proxyCfg.Username, proxyCfg.Password = &user, &pass
		}
	}

	task := types.DownloadTask{
		ID:      opts.taskID,
		Headers: headers,
		Resume:  a.settings.General.Resume && !opts.noResume,
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	for _, raw := range args {
		item := types.DownloadItem{
			URL:    raw,
			SHA256: opts.sha256,
			Proxy:  proxyCfg,
		}

		savePath := opts.output
		if savePath == "" {
			name := a.remoteFileName(cmd.Context(), item, headers)
			if name == "" {
				if name, err = fileNameFromURL(raw); err != nil {
					return types.DownloadTask{}, err
				}
			}
			savePath = filepath.Join(opts.dir, name)
		} else if opts.dir != "" {
			savePath = filepath.Join(opts.dir, savePath)
		}
		item.SavePath = savePath
		if sizeSet {
			size := opts.size
			item.Size = &size
		}
		task.Items = append(task.Items, item)
	}
	return task, nil
}

// remoteFileName returns the file name the server assigns to item through
// Content-Disposition, or "" when it names none or cannot be reached.
func (a *app) remoteFileName(ctx context.Context, item types.DownloadItem, headers map[string]string) string {
	log := utils.GetLogger("cli")
	h, err := engine.ConvertHeaders(headers)
	if err != nil {
		return ""
	}
	client, err := engine.NewClient(item, h, types.ConvertRuntimeConfig(a.settings.ToRuntimeConfig()), log)
	if err != nil {
		return ""
	}
	defer client.CloseIdleConnections()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, nameLookupTimeout)
	defer cancel()
	res, err := engine.ProbeServer(ctx, client, item.URL)
	if err != nil {
		log.Debug().Err(err).Str("url", item.URL).Msg("File name lookup failed")
		return ""
	}
	switch res.Filename {
	case "", ".", "..", string(filepath.Separator):
		return ""
	}
	return res.Filename
}

// fileNameFromURL returns the last path segment of rawURL.
func fileNameFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", fmt.Errorf("cannot derive a file name from %s, use --output", rawURL)
	}
	return name, nil
}

// parseHeaders turns "Key: Value" arguments into a header map.
func parseHeaders(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	result := make(map[string]string, len(args))
	for _, h := range args {
		key, value, ok := strings.Cut(h, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q, expected \"Key: Value\"", h)
		}
		result[key] = strings.TrimSpace(value)
	}
	return result, nil
}
