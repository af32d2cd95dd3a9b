package engine

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/MASITH-developpement/Azalscore-sub010/pkg/models"
)

const (
	// MaxHTTPBodyBytes caps how much of a response body the action keeps.
	MaxHTTPBodyBytes = 1 << 20 // 1 MiB
	// MaxHTTPTimeout caps the total request timeout regardless of config.
	MaxHTTPTimeout = 60 * time.Second
)

var allowedHTTPMethods = map[string]struct{}{
	http.MethodGet: {}, http.MethodHead: {}, http.MethodPost: {},
	http.MethodPut: {}, http.MethodPatch: {}, http.MethodDelete: {},
}

// lookupIPFunc resolves a hostname; injectable so the SSRF check is testable
// without DNS.
type lookupIPFunc func(host string) ([]net.IP, error)

type httpRequestHandler struct {
	lookupIP lookupIPFunc
}

// Params: url, method (default GET), headers (map), body, timeout_seconds.
//
// The pre-flight check is the SSRF contract: scheme must be http/https, the
// method must be allow-listed, and every resolved address must be public.
// Redirects are never followed; a redirect would bypass the resolution check.
func (h httpRequestHandler) Execute(hc *handlerContext, action *models.ActionConfig) (any, error) {
	scope := hc.scope()
	rawURL, err := interpolateString(action.StringParam("url"), scope)
	if err != nil {
		return nil, handlerErr(action.ID, err)
	}
	if rawURL == "" {
		return nil, handlerErr(action.ID, errors.New("missing 'url' parameter"))
	}

	method := strings.ToUpper(action.StringParam("method"))
	if method == "" {
		method = http.MethodGet
	}

	ips, err := h.checkTarget(rawURL, method)
	if err != nil {
		return nil, err // SSRFBlockedError, never sent
	}

	body, err := interpolateString(action.StringParam("body"), scope)
	if err != nil {
		return nil, handlerErr(action.ID, err)
	}

	timeout := time.Duration(action.IntParam("timeout_seconds", 30)) * time.Second
	if timeout <= 0 || timeout > MaxHTTPTimeout {
		timeout = MaxHTTPTimeout
	}

	var transport http.RoundTripper
	if injected := hc.eng.collab.HTTPClient; injected != nil {
		transport = injected.Transport
	}
	if transport == nil {
		// the dial connects to the addresses the pre-flight vetted; the DNS
		// record cannot be swapped between check and connect
		transport = pinnedTransport(ips)
	}
	// redirects are refused at the call site as well, not only pre-flight
	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(hc.ctx, method, rawURL, strings.NewReader(body))
	if err != nil {
		return nil, handlerErr(action.ID, err)
	}
	for key, value := range action.MapParam("headers") {
		if s, ok := value.(string); ok {
			resolved, err := interpolateString(s, scope)
			if err != nil {
				return nil, handlerErr(action.ID, err)
			}
			req.Header.Set(key, resolved)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, handlerErr(action.ID, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, MaxHTTPBodyBytes+1)
	payload, err := io.ReadAll(limited)
	if err != nil {
		return nil, handlerErr(action.ID, err)
	}
	truncated := false
	if len(payload) > MaxHTTPBodyBytes {
		payload = payload[:MaxHTTPBodyBytes]
		truncated = true
	}

	return map[string]any{
		"status":    int64(resp.StatusCode),
		"body":      string(payload),
		"truncated": truncated,
	}, nil
}

// checkTarget enforces the pre-flight safety rules. It resolves the host
// itself so a DNS name pointing at an internal address is caught before any
// connection is attempted, and returns the vetted addresses so the dial can
// be pinned to them.
func (h httpRequestHandler) checkTarget(rawURL, method string) ([]net.IP, error) {
	if _, ok := allowedHTTPMethods[method]; !ok {
		return nil, &SSRFBlockedError{URL: rawURL, Reason: "method " + method + " is not allowed"}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &SSRFBlockedError{URL: rawURL, Reason: "unparseable url"}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, &SSRFBlockedError{URL: rawURL, Reason: "scheme " + parsed.Scheme + " is not allowed"}
	}
	host := parsed.Hostname()
	if host == "" {
		return nil, &SSRFBlockedError{URL: rawURL, Reason: "empty host"}
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		lookup := h.lookupIP
		if lookup == nil {
			lookup = net.LookupIP
		}
		resolved, err := lookup(host)
		if err != nil || len(resolved) == 0 {
			return nil, &SSRFBlockedError{URL: rawURL, Reason: "host does not resolve"}
		}
		ips = resolved
	}

	for _, ip := range ips {
		if reason := blockedAddressReason(ip); reason != "" {
			return nil, &SSRFBlockedError{URL: rawURL, Reason: reason}
		}
	}
	return ips, nil
}

// pinnedTransport dials only the given addresses, ignoring whatever the
// hostname resolves to at connect time. TLS verification still runs against
// the hostname in the URL.
func pinnedTransport(ips []net.IP) *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			_, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			var lastErr error
			for _, ip := range ips {
				conn, dialErr := dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
				if dialErr == nil {
					return conn, nil
				}
				lastErr = dialErr
			}
			return nil, lastErr
		},
	}
}

// blockedAddressReason classifies addresses the engine must never call out
// to: loopback, link-local (which covers the cloud metadata endpoint
// 169.254.169.254), RFC1918 private ranges, and unspecified/multicast.
func blockedAddressReason(ip net.IP) string {
	switch {
	case ip.IsLoopback():
		return "loopback address " + ip.String()
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return "link-local address " + ip.String()
	case ip.IsPrivate():
		return "private address " + ip.String()
	case ip.IsUnspecified():
		return "unspecified address " + ip.String()
	case ip.IsMulticast():
		return "multicast address " + ip.String()
	}
	// carrier-grade NAT range, treated the same as RFC1918
	if cgnat := ip.To4(); cgnat != nil && cgnat[0] == 100 && cgnat[1] >= 64 && cgnat[1] <= 127 {
		return "shared address " + ip.String()
	}
	return ""
}
