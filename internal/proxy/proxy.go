// Package proxy forwards inbound requests verbatim to the upstream
// session API. It is a transparent relay: the upstream status, headers,
// and body pass through unmodified, and nothing is retried.
package proxy

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sessionrelay/sessionrelay/internal/provider"
)

// hopHeaders are stripped in both directions per RFC 9110 §7.6.1.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Proxy dispatches requests to the upstream base URL.
type Proxy struct {
	baseURL string
	client  *http.Client
}

// New creates a proxy for the given upstream root. The client timeout
// is a hard upper bound; there is no per-call cancellation contract
// beyond the request context.
func New(baseURL string) *Proxy {
	return &Proxy{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Forward relays r to <base>/<pathSuffix> with the debug credentials
// attached, and writes the upstream response back verbatim. Only debug
// contexts reach the upstream; hosted and byok requests are served from
// the local store. Transport errors become a 502; upstream error
// statuses are relayed as-is, logged but never retried.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, pathSuffix string, creds provider.Debug) {
	url := p.baseURL + "/" + strings.TrimLeft(pathSuffix, "/")
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, url, r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("build upstream request: %v", err), http.StatusBadGateway)
		return
	}

	copyHeaders(req.Header, r.Header)
	// The relay bearer token never goes upstream; the debug session key
	// replaces it.
	req.Header.Set("Authorization", "Bearer "+creds.SessionKey)
	req.Header.Set("x-organization-uuid", creds.OrgUUID)

	resp, err := p.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("upstream call failed")
		http.Error(w, fmt.Sprintf("upstream unavailable: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("upstream returned error status")
	}

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Error().Err(err).Str("url", url).Msg("copy upstream body failed")
	}
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopHeader(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isHopHeader(key string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	return false
}
