package engine

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/rs/zerolog"

	"github.com/weightfetch/weightfetch/internal/engine/proxy"
	"github.com/weightfetch/weightfetch/internal/engine/types"
)

// Client is an http.Client carrying the task's shared headers.
type Client struct {
	HTTP    *http.Client
	Headers http.Header
	UA      string
}

// ConvertHeaders validates caller supplied headers and canonicalizes them.
func ConvertHeaders(headers map[string]string) (http.Header, error) {
	h := make(http.Header, len(headers))
	for k, v := range headers {
		key := strings.TrimSpace(k)
		if key == "" || strings.ContainsAny(key, " \t\r\n:") {
			return nil, fmt.Errorf("%w: invalid header name %q", types.ErrConfiguration, k)
		}
		if strings.ContainsAny(v, "\r\n") {
			return nil, fmt.Errorf("%w: invalid value for header %q", types.ErrConfiguration, k)
		}
		h.Set(textproto.CanonicalMIMEHeaderKey(key), v)
	}
	return h, nil
}

// NewClient builds the transport for one item, applying its proxy unless the
// item URL is listed in no_proxy.
func NewClient(item types.DownloadItem, headers http.Header, runtime *types.RuntimeConfig, log zerolog.Logger) (*Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   types.DialTimeout,
			KeepAlive: runtime.GetKeepAlive(),
		}).DialContext,
		MaxIdleConns:          types.DefaultMaxIdleConns,
		IdleConnTimeout:       types.DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   types.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: types.DefaultResponseHeaderTimeout,
		ExpectContinueTimeout: types.DefaultExpectContinueTimeout,
		ForceAttemptHTTP2:     true,
		// Content-Length and the bytes on disk must describe the same encoding.
		DisableCompression: true,
	}

	if pc := item.Proxy; pc != nil {
		if err := proxy.Validate(pc); err != nil {
			return nil, err
		}
		if pc.SkipTLSVerify() {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per item
			log.Info().Str("url", item.URL).Msg("SSL certificate verification disabled")
		}

		if proxy.ShouldBypass(item.URL, pc.NoProxy) {
			transport.Proxy = nil
			log.Info().Str("url", item.URL).Msg("Bypassing proxy")
		} else {
			p, err := proxy.Build(pc)
			if err != nil {
				return nil, err
			}
			p.Apply(transport)
			log.Info().Str("proxy", p.URL.Redacted()).Str("url", item.URL).Msg("Using proxy")
		}
	}

	h := headers.Clone()
	if h == nil {
		h = make(http.Header)
	}
	return &Client{
		HTTP:    &http.Client{Transport: transport},
		Headers: h,
		UA:      runtime.GetUserAgent(),
	}, nil
}

// Do sends req with the shared headers applied. Headers already set on req win.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for k, vs := range c.Headers {
		if req.Header.Get(k) != "" {
			continue
		}
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UA)
	}
	return c.HTTP.Do(req)
}

// CloseIdleConnections releases pooled connections held by the transport.
func (c *Client) CloseIdleConnections() {
	c.HTTP.CloseIdleConnections()
}
