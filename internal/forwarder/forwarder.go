package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nv/edge-gateway/internal/configmirror"
	"github.com/nv/edge-gateway/internal/guardrail"
	"github.com/nv/edge-gateway/internal/problem"
)

// ServiceResolver is the subset of *configmirror.Mirror the forwarder
// needs, kept as an interface so tests can fake it without a running
// registry.
type ServiceResolver interface {
	Lookup(slug string, version int) (configmirror.ServiceConfig, bool)
}

// TokenMinter mints the S2S bearer attached to every outbound call.
type TokenMinter interface {
	Mint(ctx context.Context, callerSlug string, ttlSec int) (string, error)
}

// Forwarder resolves the target route, mints an S2S bearer, and relays
// the request to the upstream service.
type Forwarder struct {
	resolver          ServiceResolver
	minter            TokenMinter
	client            *http.Client
	downstreamTimeout time.Duration
	serviceName       string
}

// New constructs a Forwarder. downstreamTimeout must be strictly less than
// the edge SLO timer configured in internal/guardrail.Timeout, so the
// forwarder always times out its own upstream call before the gateway's
// outer deadline fires.
func New(resolver ServiceResolver, minter TokenMinter, downstreamTimeout time.Duration, serviceName string) *Forwarder {
	return &Forwarder{
		resolver:          resolver,
		minter:            minter,
		client:            &http.Client{Timeout: downstreamTimeout},
		downstreamTimeout: downstreamTimeout,
		serviceName:       serviceName,
	}
}

// ServeHTTP is the forwarder's handler, mounted under /api/:slug.V<d>/*
// after the full guardrail chain and route policy have run.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("x-request-id")

	route, err := ParseRoute(r.URL.Path)
	if err != nil {
		problem.NotFound(w, err.Error(), requestID)
		return
	}

	sc, ok := f.resolver.Lookup(route.Slug, route.Version)
	if !ok || !sc.Enabled || !sc.AllowProxy {
		problem.NotFound(w, "Service '"+route.Slug+"' unavailable (unknown or disabled).", requestID)
		return
	}

	restPath := sc.ResolveAlias(route.RestPath)
	target, err := singleJoiningURL(sc.BaseURL, sc.OutboundAPIPrefix, restPath, r.URL.RawQuery)
	if err != nil {
		problem.NotFound(w, "malformed upstream target", requestID)
		return
	}

	var bodyBytes []byte
	if r.Body != nil {
		bodyBytes, _ = io.ReadAll(r.Body)
		r.Body.Close()
	}

	timeoutMs := sc.ResolveTimeoutMs(int(f.downstreamTimeout / time.Millisecond))
	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		problem.BadGateway(w, "failed to build upstream request", requestID)
		return
	}

	copyHeaders(outReq.Header, r.Header)
	appendForwardedFor(outReq.Header, clientIP(r))
	outReq.Header.Set("x-forwarded-host", r.Host)
	outReq.Header.Set("x-forwarded-proto", forwardedProto(r))
	outReq.Header.Set("x-request-id", requestID)
	outReq.Header.Set("X-NV-Api-Version", route.VersionLabel)
	if outReq.Header.Get("content-type") == "" {
		outReq.Header.Set("content-type", "application/json; charset=utf-8")
	}

	bearer, err := f.minter.Mint(ctx, f.serviceName, 60)
	if err != nil {
		problem.BadGateway(w, "failed to mint S2S token", requestID)
		return
	}
	outReq.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := f.client.Do(outReq)
	if err != nil {
		f.writeTransportError(w, err, requestID)
		return
	}
	defer resp.Body.Close()

	f.writeUpstreamResponse(w, resp, requestID)
}

func (f *Forwarder) writeTransportError(w http.ResponseWriter, err error, requestID string) {
	if guardrail.Recorder(w).HeadersSent() {
		return
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		problem.GatewayTimeout(w, "upstream request timed out", requestID)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		problem.GatewayTimeout(w, "upstream request timed out", requestID)
		return
	}
	problem.BadGateway(w, "failed to reach upstream: "+err.Error(), requestID)
}

func (f *Forwarder) writeUpstreamResponse(w http.ResponseWriter, resp *http.Response, requestID string) {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 32<<20))

	if guardrail.Recorder(w).HeadersSent() {
		return
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		stripUpstreamHopByHop(resp.Header)
		for k, vv := range resp.Header {
			for _, v := range vv {
				w.Header().Add(k, v)
			}
		}
		body := NormalizeUpstreamBody(raw)
		data, contentType, err := body.Encode()
		if err != nil {
			problem.Internal(w, requestID)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(resp.StatusCode)
		w.Write(data)
		return
	}

	detail := strings.TrimSpace(string(raw))
	var parsed map[string]any
	if jsonErr := json.Unmarshal(raw, &parsed); jsonErr == nil {
		if d, ok := parsed["detail"].(string); ok {
			detail = d
		}
	}
	title := http.StatusText(resp.StatusCode)
	if title == "" {
		title = "Upstream Error"
	}
	problem.Write(w, problem.New(resp.StatusCode, title, detail, requestID))
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func forwardedProto(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if p := r.Header.Get("x-forwarded-proto"); p != "" {
		return p
	}
	return "http"
}
