// Package gateway wires the already-constructed core components
// (ConfigMirror, S2STokenMinter, Guardrails, RoutePolicy, Forwarder,
// AuditWAL, HealthProxy) into one gorilla/mux router in the normative
// middleware order, and mounts the public, admin, and metrics surfaces.
// Rate limits run outside the circuit breaker; the client-auth gate runs
// inside it.
package gateway

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nv/edge-gateway/internal/auditwal"
	"github.com/nv/edge-gateway/internal/configmirror"
	"github.com/nv/edge-gateway/internal/forwarder"
	"github.com/nv/edge-gateway/internal/guardrail"
	"github.com/nv/edge-gateway/internal/gwconfig"
	"github.com/nv/edge-gateway/internal/health"
	"github.com/nv/edge-gateway/internal/metrics"
	"github.com/nv/edge-gateway/internal/problem"
	"github.com/nv/edge-gateway/internal/routepolicy"
	"github.com/nv/edge-gateway/internal/seclog"
)

// Deps bundles every component Pipeline Assembly wires together. All
// fields are constructed by cmd/gateway's boot sequence; Runtime only
// orders and mounts them.
type Deps struct {
	Config     *gwconfig.Config
	Mirror     *configmirror.Mirror
	Forwarder  *forwarder.Forwarder
	Checker    *health.Checker
	WAL        *auditwal.WAL
	Breaker    *guardrail.Breaker
	AuthGate   *guardrail.ClientAuthGate
	JWKS       *guardrail.JWKSClient
	RateLimit  *guardrail.GlobalRateLimiter
	Sensitive  *guardrail.SensitiveLimiter
	Metrics    *metrics.Registry
	Sec        *seclog.Logger
	Logger     *slog.Logger
}

// secEmitter adapts a possibly-nil *seclog.Logger to a possibly-nil
// guardrail.SecurityEmitter interface value. Passing a nil *seclog.Logger
// straight through as an interface would produce a non-nil interface
// wrapping a nil pointer, defeating every "if sec != nil" check in
// internal/guardrail.
func secEmitter(l *seclog.Logger) guardrail.SecurityEmitter {
	if l == nil {
		return nil
	}
	return l
}

// Runtime holds the assembled router plus the bits admin/metrics handlers
// need after construction.
type Runtime struct {
	Router    *mux.Router
	startedAt time.Time
	deps      Deps
}

// New assembles the router in the normative middleware order.
func New(deps Deps) *Runtime {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	rt := &Runtime{Router: mux.NewRouter(), startedAt: time.Now(), deps: deps}
	r := rt.Router

	// Global chain: httpsOnly -> cors -> requestId -> httpLogger -> trace5xx.
	// Applied to every route, public or guarded.
	r.Use(guardrail.HTTPSOnly(deps.Config.Guardrails.HTTPSEnforced))
	r.Use(cors)
	r.Use(guardrail.RequestIDMiddleware)
	r.Use(httpLogger(deps.Logger))
	r.Use(guardrail.Trace5xx(deps.Logger))

	r.HandleFunc("/", rt.rootHandler).Methods(http.MethodGet)

	// Public surface: health, jwks, per-slug health proxy. None of these
	// carry rate-limit, breaker, or client-auth — requires the
	// health proxy to bypass auth and audit, and an unreachable JWKS/health
	// checker would otherwise be unable to report the gateway's own state.
	r.HandleFunc("/health", deps.Checker.LivenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/healthz", deps.Checker.LivenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", deps.Checker.ReadinessHandler).Methods(http.MethodGet)
	r.HandleFunc("/jwks", jwksHandler(deps.JWKS)).Methods(http.MethodGet)
	r.HandleFunc("/.well-known/jwks.json", jwksHandler(deps.JWKS)).Methods(http.MethodGet)
	r.HandleFunc("/{slug}/health/{kind}", health.SlugHealthProxy(deps.Mirror, nil)).Methods(http.MethodGet)

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Gatherer(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	rt.mountAdmin(r)
	rt.mountAPI(r)

	r.NotFoundHandler = http.HandlerFunc(notFoundHandler)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	return rt
}

// mountAPI builds the guarded chain — rateLimit -> sensitiveLimit ->
// timeouts -> circuitBreaker -> authGate -> auditCapture -> routePolicy ->
// forwarder — and mounts it on /api/, the only subtree body parsing (the
// forwarder's own body pass-through) ever touches.
func (rt *Runtime) mountAPI(r *mux.Router) {
	deps := rt.deps

	var h http.Handler = deps.Forwarder
	h = routepolicy.New(deps.Mirror).Middleware(h)
	if deps.WAL != nil {
		h = deps.WAL.Middleware(h)
	}
	h = deps.AuthGate.Middleware(h)
	h = guardrail.CircuitBreakerMiddleware(deps.Breaker, breakerSegment, secEmitter(deps.Sec))(h)
	h = guardrail.Timeout(guardrail.TimeoutConfig{GatewayMs: deps.Config.Guardrails.TimeoutGatewayMs}, secEmitter(deps.Sec))(h)
	if deps.Sensitive != nil {
		h = deps.Sensitive.Middleware(h)
	}
	if deps.RateLimit != nil {
		h = deps.RateLimit.Middleware(h)
	}

	r.PathPrefix("/api/").Handler(h)
}

func (rt *Runtime) mountAdmin(r *mux.Router) {
	deps := rt.deps
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Handle("/mirror", requireAdminKey(deps.Config.AdminKey, adminMirrorHandler(deps.Mirror))).Methods(http.MethodGet)
	admin.Handle("/breakers", requireAdminKey(deps.Config.AdminKey, adminBreakersHandler(deps.Breaker))).Methods(http.MethodGet)
	if deps.WAL != nil {
		admin.Handle("/wal", requireAdminKey(deps.Config.AdminKey, adminWALHandler(deps.WAL))).Methods(http.MethodGet)
	}
	admin.Handle("/status", requireAdminKey(deps.Config.AdminKey, rt.statusHandler())).Methods(http.MethodGet)
}

// breakerSegment keys the circuit breaker on the upstream service slug
// rather than the literal "api" mux.PathPrefix("/api/") leaves on every
// request's path — otherwise every backend would share one breaker and a
// single sick upstream would trip fault isolation for all of them.
func breakerSegment(r *http.Request) string {
	route, err := forwarder.ParseRoute(r.URL.Path)
	if err != nil {
		return ""
	}
	return route.Slug
}

func (rt *Runtime) rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("gateway is up"))
}

func (rt *Runtime) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, _ := debug.ReadBuildInfo()
		goVer := ""
		if info != nil {
			goVer = info.GoVersion
		}
		writeAdminJSON(w, map[string]any{
			"service":       rt.deps.Config.Identity.ServiceName,
			"env":           rt.deps.Config.Identity.Env,
			"goVersion":     goVer,
			"uptimeSeconds": int(time.Since(rt.startedAt).Seconds()),
		})
	}
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	problem.NotFound(w, "no route matches this request", guardrail.RequestID(r))
}

func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	problem.Write(w, problem.New(http.StatusMethodNotAllowed, "Method Not Allowed", "method not allowed for this route", guardrail.RequestID(r)))
}
