// Package proxy validates per-item proxy settings and turns them into
// transport configuration.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	xproxy "golang.org/x/net/proxy"

	"github.com/weightfetch/weightfetch/internal/engine/types"
)

// Proxy is the transport-level form of a ProxyConfig. Exactly one of
// ProxyFunc and DialContext is set.
type Proxy struct {
	URL         *url.URL
	ProxyFunc   func(*http.Request) (*url.URL, error)
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Apply installs the proxy on transport.
func (p *Proxy) Apply(transport *http.Transport) {
	if p == nil {
		return
	}
	if p.DialContext != nil {
		transport.Proxy = nil
		transport.DialContext = p.DialContext
		return
	}
	transport.Proxy = p.ProxyFunc
}

// Validate rejects a configuration before any network call is made.
func Validate(cfg *types.ProxyConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: missing proxy configuration", types.ErrConfiguration)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return fmt.Errorf("%w: invalid proxy URL '%s': %v", types.ErrConfiguration, cfg.URL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: invalid proxy URL '%s': missing scheme or host", types.ErrConfiguration, cfg.URL)
	}

	switch u.Scheme {
	case "http", "https", "socks4", "socks5":
	default:
		return fmt.Errorf("%w: unsupported proxy scheme: %s", types.ErrConfiguration, u.Scheme)
	}

	if cfg.Username != nil && cfg.Password == nil {
		return fmt.Errorf("%w: username provided without password", types.ErrConfiguration)
	}
	if cfg.Password != nil && cfg.Username == nil {
		return fmt.Errorf("%w: password provided without username", types.ErrConfiguration)
	}

	for _, entry := range cfg.NoProxy {
		if entry == "" {
			return fmt.Errorf("%w: empty no_proxy entry", types.ErrConfiguration)
		}
		if strings.HasPrefix(entry, "*.") && len(entry) < 3 {
			return fmt.Errorf("%w: invalid wildcard pattern: %s", types.ErrConfiguration, entry)
		}
	}
	return nil
}

// Build validates cfg and constructs the transport proxy, with basic auth
// when credentials are present.
func Build(cfg *types.ProxyConfig) (*Proxy, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	u, _ := url.Parse(cfg.URL)
	if cfg.Username != nil && cfg.Password != nil {
		u.User = url.UserPassword(*cfg.Username, *cfg.Password)
	}

	switch u.Scheme {
	case "socks4":
		return nil, fmt.Errorf("%w: socks4 proxies are not supported by this transport", types.ErrConfiguration)
	case "socks5":
		var auth *xproxy.Auth
		if cfg.Username != nil {
			auth = &xproxy.Auth{User: *cfg.Username, Password: *cfg.Password}
		}
		forward := &net.Dialer{Timeout: types.DialTimeout, KeepAlive: types.KeepAliveDuration}
		dialer, err := xproxy.SOCKS5("tcp", u.Host, auth, forward)
		if err != nil {
			return nil, fmt.Errorf("%w: socks5 proxy %s: %v", types.ErrConfiguration, u.Redacted(), err)
		}
		cd, ok := dialer.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("%w: socks5 dialer does not support contexts", types.ErrConfiguration)
		}
		return &Proxy{URL: u, DialContext: cd.DialContext}, nil
	default:
		return &Proxy{URL: u, ProxyFunc: http.ProxyURL(u)}, nil
	}
}

// ShouldBypass reports whether rawURL's host matches a no_proxy entry.
// "*" matches everything, "*.domain" is a suffix match, anything else must
// equal the host exactly. Unparseable URLs never bypass.
func ShouldBypass(rawURL string, noProxy []string) bool {
	if len(noProxy) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}

	for _, entry := range noProxy {
		if entry == "*" {
			return true
		}
		if strings.HasPrefix(entry, "*.") {
			if strings.HasSuffix(host, entry[2:]) {
				return true
			}
		} else if host == entry {
			return true
		}
	}
	return false
}
