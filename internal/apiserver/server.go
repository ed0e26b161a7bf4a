// Package apiserver glues the configuration snapshot, endpoint catalog,
// reactor, worker pool, audit drain, token service and metrics into one
// Server value (spec.md §9: "re-architect as fields of an explicit Server
// value passed by reference to reactor and workers").
package apiserver

import (
	"context"
	"fmt"
	"time"

	"github.com/cppservergit/apiserver-odbc/internal/audit"
	"github.com/cppservergit/apiserver-odbc/internal/config"
	"github.com/cppservergit/apiserver-odbc/internal/httpx"
	"github.com/cppservergit/apiserver-odbc/internal/logx"
	"github.com/cppservergit/apiserver-odbc/internal/metrics"
	"github.com/cppservergit/apiserver-odbc/internal/reactor"
	"github.com/cppservergit/apiserver-odbc/internal/sqlstore"
	"github.com/cppservergit/apiserver-odbc/internal/token"
	"github.com/cppservergit/apiserver-odbc/internal/webapi"
)

// Server owns every long-lived collaborator and the reactor that drives
// them.
type Server struct {
	cfg      config.Snapshot
	catalog  *webapi.Catalog
	tokens   *token.Service
	store    *sqlstore.Store
	drain    *audit.Drain
	counters *metrics.Counters
	log      *logx.Logger
	version  string
}

// New builds a Server with its own catalog, token service and counters.
// Callers register endpoints with Register before calling Start.
func New(cfg config.Snapshot, store *sqlstore.Store, log *logx.Logger, version string) *Server {
	s := &Server{
		cfg:      cfg,
		catalog:  webapi.NewCatalog(),
		tokens:   token.NewService(cfg.JWTSecret, cfg.JWTExpiration),
		store:    store,
		counters: metrics.New(cfg.PoolSize),
		log:      log,
		version:  version,
	}
	if cfg.EnableAudit {
		s.drain = audit.NewDrain(store, log, 4096)
	}
	s.registerBuiltins()
	return s
}

// Register adds a user endpoint to the catalog. It must be called before
// Start; the catalog is frozen once the reactor begins serving.
func (s *Server) Register(d *webapi.Descriptor) error {
	return s.catalog.Register(d)
}

// Start freezes the catalog and runs the reactor until ctx is cancelled
// (e.g. by a delivered SIGINT/SIGTERM/SIGQUIT).
func (s *Server) Start(ctx context.Context) error {
	s.catalog.Freeze()

	if s.drain != nil {
		// The reactor stops the drain after ctx is cancelled; its final
		// flush must not write on a cancelled context.
		s.drain.Run(context.WithoutCancel(ctx))
	}

	allowed := make(map[string]bool, len(s.cfg.AllowOrigins))
	for _, o := range s.cfg.AllowOrigins {
		allowed[o] = true
	}

	r := reactor.New(reactor.Config{
		Port:         s.cfg.Port,
		AllowOrigins: allowed,
		AcceptBurst:  s.cfg.AcceptBurst,
		Catalog:      s.catalog,
		Counters:     s.counters,
		Log:          s.log,
		Audit:        s.drain,
		PoolSize:     s.cfg.PoolSize,
		Dispatch:     s.processRequest,
		InlinePing: func() *httpx.Response {
			return httpx.SetBody(`{"status":"OK"}`, "", false)
		},
		InlineSysinfo: func() *httpx.Response {
			return s.sysinfoResponse()
		},
	})
	return r.Start(ctx)
}

// processRequest is the request lifecycle wrapper (spec.md §4.4): it runs
// enforce(verb), enforce(rules), checkSecurity, invokes the handler, and
// maps any LifecycleError to the corresponding HTTP response. No error
// escapes this function; every path calls blob cleanup on failure.
func (s *Server) processRequest(ctx context.Context, req *httpx.Request, d *webapi.Descriptor) *httpx.Response {
	if req.Method == httpx.MethodOptions {
		headers, _ := req.Header("access-control-request-headers")
		return httpx.CORSPreflight(req.Origin, headers)
	}

	origin := req.Origin
	allowOrigin := origin != "" && s.cfg.AllowOrigins != nil && containsString(s.cfg.AllowOrigins, origin)

	body, err := s.runHandler(ctx, req, d)
	if err != nil {
		req.CleanupBlobs()
		s.log.ErrorR(d.Path, "ERROR "+d.Path+" "+err.Error(), req.XRequestID)
		return mapErrorToResponse(err, origin, allowOrigin)
	}
	return httpx.SetBody(body, origin, allowOrigin)
}

func (s *Server) runHandler(ctx context.Context, req *httpx.Request, d *webapi.Descriptor) (string, error) {
	if err := httpx.EnforceVerb(req, d.Verb); err != nil {
		return "", err
	}
	if len(d.Rules) > 0 {
		if err := httpx.EnforceRules(req, d.Rules); err != nil {
			return "", err
		}
	}
	if d.Secure {
		if err := httpx.CheckSecurity(req, d.Roles, s.tokens); err != nil {
			return "", err
		}
		if s.drain != nil {
			payload := string(req.Body())
			if req.IsMultipart() {
				payload = "multipart-form-data"
			}
			userAgent, _ := req.Header("user-agent")
			s.drain.Push(audit.Record{
				Username:  req.User.Login,
				RemoteIP:  req.RemoteIP,
				Path:      req.Path,
				Payload:   payload,
				SessionID: req.User.SessionID,
				UserAgent: userAgent,
				NodeName:  s.counters.Pod,
				RequestID: req.XRequestID,
			})
		}
	}

	body, err := d.Handler(ctx, req)
	if err != nil {
		return "", &httpx.InternalError{Msg: err.Error()}
	}
	return body, nil
}

func mapErrorToResponse(err error, origin string, allowOrigin bool) *httpx.Response {
	switch e := err.(type) {
	case *httpx.InvalidInputError:
		body := fmt.Sprintf(`{"status":"INVALID","validation":{"id":"%s","description":"%s"}}`,
			httpx.JSONEscape(e.Field), httpx.JSONEscape(e.Description))
		return httpx.SetBody(body, origin, allowOrigin)
	case *httpx.AccessDeniedError:
		body := `{"status":"INVALID","validation":{"id":"_dialog_","description":"err.accessdenied"}}`
		return httpx.SetBody(body, origin, allowOrigin)
	case *httpx.LoginRequiredError:
		return httpx.ErrorResponse(401)
	case *httpx.ResourceNotFoundError:
		return httpx.ErrorResponse(404)
	case *httpx.MethodNotAllowedError:
		return httpx.ErrorResponse(405)
	default:
		_ = e
		return httpx.SetBody(`{"status":"ERROR","description":"Service error"}`, origin, allowOrigin)
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (s *Server) sysinfoResponse() *httpx.Response {
	snap := s.counters.Snapshot()
	body := fmt.Sprintf(
		`{"pod":"%s","startDate":"%s","totalRequests":%d,"avgTimePerRequest":"%s","connections":%d,"activeThreads":%d,"poolSize":%d,"totalRam":"%s","memoryUsage":"%s"}`,
		snap.Pod, snap.StartDate, snap.TotalRequests, snap.AvgTimePerRequest,
		snap.Connections, snap.ActiveThreads, snap.PoolSize, snap.TotalRam, snap.MemoryUsage)
	return httpx.SetBody(body, "", false)
}

// MetricsResponse renders the /api/metrics Prometheus text body.
func (s *Server) MetricsResponse() string {
	return s.counters.PrometheusText()
}

// Counters exposes the server's operational counters, e.g. for wiring a
// standard promhttp handler alongside the built-in text endpoint.
func (s *Server) Counters() *metrics.Counters { return s.counters }

// Version returns the version string baked in at build time.
func (s *Server) Version() string { return s.version }

func (s *Server) registerBuiltins() {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	// /api/ping and /api/sysinfo are registered for catalog completeness
	// (spec.md §4.7 lists them as unconditional built-ins) but the reactor
	// bypasses the work queue entirely for these two paths and answers
	// inline (spec.md §4.1 dispatch step 3); these handlers never run.
	must(s.catalog.Register(&webapi.Descriptor{
		Path: "/api/ping", Description: "liveness probe", Verb: webapi.GET,
		Handler: func(ctx context.Context, req webapi.Request) (string, error) {
			return `{"status":"OK"}`, nil
		},
	}))

	must(s.catalog.Register(&webapi.Descriptor{
		Path: "/api/sysinfo", Description: "operational snapshot", Verb: webapi.GET,
		Handler: func(ctx context.Context, req webapi.Request) (string, error) {
			return "", nil
		},
	}))

	must(s.catalog.Register(&webapi.Descriptor{
		Path: "/api/version", Description: "server version", Verb: webapi.GET,
		Handler: func(ctx context.Context, req webapi.Request) (string, error) {
			return fmt.Sprintf(`{"status":"OK","data":[{"version":"%s"}]}`, httpx.JSONEscape(s.version)), nil
		},
	}))

	must(s.catalog.Register(&webapi.Descriptor{
		Path: "/api/sysdate", Description: "server date and time", Verb: webapi.GET,
		Handler: func(ctx context.Context, req webapi.Request) (string, error) {
			now := time.Now().UTC().Format(time.RFC3339)
			return fmt.Sprintf(`{"status":"OK","data":[{"sysdate":"%s"}]}`, now), nil
		},
	}))

	must(s.catalog.Register(&webapi.Descriptor{
		Path: "/api/metrics", Description: "prometheus metrics", Verb: webapi.GET,
		Handler: func(ctx context.Context, req webapi.Request) (string, error) {
			return s.MetricsResponse(), nil
		},
	}))

	must(s.catalog.Register(&webapi.Descriptor{
		Path: "/api/login", Description: "authenticate a user and issue a token", Verb: webapi.POST,
		Rules: []webapi.InputRule{
			{Name: "username", Type: webapi.String, Required: true},
			{Name: "password", Type: webapi.String, Required: true},
		},
		Handler: s.loginHandler,
	}))

	must(s.catalog.Register(&webapi.Descriptor{
		Path: "/api/totp", Description: "validate a TOTP code", Verb: webapi.POST,
		Rules: []webapi.InputRule{
			{Name: "secret", Type: webapi.String, Required: true},
			{Name: "token", Type: webapi.String, Required: true},
		},
		Handler: s.totpHandler,
	}))
}
