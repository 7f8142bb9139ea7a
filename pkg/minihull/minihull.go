// Package minihull is an in-process fake of the platform API and firehose.
// It records every request it receives and serves a small set of default
// routes, which tests can override with stubs.
package minihull

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"hullclient/internal/deepcopy"
	"hullclient/pkg/logger"
	"hullclient/pkg/tracing"
)

// Request is a recorded inbound call.
type Request struct {
	ID     string
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   map[string]any
	// Claims holds the verified claims of a JWT Hull-Access-Token.
	Claims map[string]any
	At     time.Time
}

// Batch is a recorded firehose POST.
type Batch struct {
	Request
	Items []map[string]any
}

type stub struct {
	status int
	body   any
	times  int // 0 means forever
}

// Server is the fake platform. The zero value is not usable; call New.
type Server struct {
	log    logger.Sugared
	secret string

	mu       sync.Mutex
	requests []Request
	batches  []Batch
	stubs    map[string][]*stub
	app      map[string]any
	props    []any

	router chi.Router
}

type Option func(*Server)

func WithLogger(l logger.Sugared) Option { return func(s *Server) { s.log = l } }

// WithSecret enables authentication: requests must carry the connector secret
// or a token signed with it.
func WithSecret(secret string) Option { return func(s *Server) { s.secret = secret } }

// WithApp sets the connector document served by GET app.
func WithApp(app map[string]any) Option { return func(s *Server) { s.app = deepcopy.Map(app) } }

// WithPropertiesTree sets the tree served by the user_reports bootstrap route.
func WithPropertiesTree(tree []any) Option { return func(s *Server) { s.props = tree } }

func New(opts ...Option) *Server {
	s := &Server{
		log:   logger.Nop(),
		stubs: map[string][]*stub{},
		app:   map[string]any{"id": "562123b470df84b740000042", "name": "minihull", "private_settings": map[string]any{}},
	}
	for _, o := range opts {
		o(s)
	}
	s.router = s.routes()
	return s
}

// Handler serves the fake platform.
func (s *Server) Handler() http.Handler { return tracing.Handler(s.router, "minihull") }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID())
	r.Use(recoverer(s.log))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })

	r.Group(func(r chi.Router) {
		r.Use(authenticate(s.secret))
		r.Use(s.record)
		r.Use(s.stubbed)
		r.Post("/firehose", s.firehose)
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/app", s.getApp)
			r.Put("/{id}", s.putApp)
			r.Get("/search/user_reports/bootstrap", s.bootstrap)
			r.Put("/me/traits", s.ok)
			r.HandleFunc("/*", s.ok)
		})
	})
	return r
}

// Stub makes method+path answer with status and body. times limits how many
// calls are answered; 0 keeps the stub forever. Stubs for the same route are
// consumed in the order they were added.
func (s *Server) Stub(method, path string, status int, body any, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := method + " " + path
	s.stubs[k] = append(s.stubs[k], &stub{status: status, body: body, times: times})
}

// FailNext makes the next n calls to method+path answer with status.
func (s *Server) FailNext(method, path string, n, status int) {
	s.Stub(method, path, status, map[string]any{"message": http.StatusText(status)}, n)
}

// Requests returns every recorded call in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Batches returns the firehose batches that were accepted, in arrival order.
func (s *Server) Batches() []Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Batch(nil), s.batches...)
}

// App returns the current connector document.
func (s *Server) App() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepcopy.Map(s.app)
}

// Reset forgets recorded calls and stubs.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
	s.batches = nil
	s.stubs = map[string][]*stub{}
}

func (s *Server) firehose(w http.ResponseWriter, r *http.Request) {
	req := current(r)
	raw, _ := req.Body["batch"].([]any)
	items := make([]map[string]any, 0, len(raw))
	for _, it := range raw {
		if m, ok := it.(map[string]any); ok {
			items = append(items, m)
		}
	}
	s.mu.Lock()
	s.batches = append(s.batches, Batch{Request: req, Items: items})
	s.mu.Unlock()
	s.log.Debugw("minihull.firehose", "size", len(items), "request_id", req.ID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "size": len(items)})
}

func (s *Server) getApp(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.App())
}

func (s *Server) putApp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	if s.app["id"] != id {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "not found"})
		return
	}
	for k, v := range current(r).Body {
		s.app[k] = deepcopy.Value(v)
	}
	app := deepcopy.Map(s.app)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) bootstrap(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	tree := deepcopy.Value(s.props)
	s.mu.Unlock()
	if tree == nil {
		tree = []any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": "1", "tree": tree})
}

func (s *Server) ok(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "path": r.URL.Path})
}

// record captures every authenticated call before stubs run.
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := Request{
			ID:     RequestIDFrom(r.Context()),
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Claims: ClaimsFrom(r.Context()),
			At:     time.Now().UTC(),
		}
		if r.Body != nil {
			raw, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &req.Body)
			}
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		next.ServeHTTP(w, r.WithContext(withRequest(r.Context(), req)))
	})
}

func (s *Server) stubbed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		k := r.Method + " " + r.URL.Path
		s.mu.Lock()
		var hit *stub
		if list := s.stubs[k]; len(list) > 0 {
			hit = list[0]
			if hit.times > 0 {
				hit.times--
				if hit.times == 0 {
					s.stubs[k] = list[1:]
				}
			}
		}
		s.mu.Unlock()
		if hit == nil {
			next.ServeHTTP(w, r)
			return
		}
		writeJSON(w, hit.status, hit.body)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
