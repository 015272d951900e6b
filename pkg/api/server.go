package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cacophony-project/cacophony-api/pkg/audit"
	"github.com/cacophony-project/cacophony-api/pkg/auth"
	"github.com/cacophony-project/cacophony-api/pkg/httputil"
	"github.com/cacophony-project/cacophony-api/pkg/middleware"
	"github.com/cacophony-project/cacophony-api/pkg/reconcile"
)

// StationImporter applies station bulk-import plans, implemented by
// reconcile.Applier
type StationImporter interface {
	Apply(ctx context.Context, groupID int64, plan reconcile.Plan, fromDate *time.Time) (reconcile.Outcome, error)
}

// Deps holds everything the server needs to handle requests
type Deps struct {
	Store     Store
	Resolver  PermissionResolver
	Tokens    *auth.TokenManager
	Passwords *auth.PasswordPolicy
	Objects   ObjectStore
	Auditor   *audit.Recorder
	Importer  StationImporter

	// Authn is the shared authentication middleware; RateLimiter is
	// optional and skipped when nil.
	Authn       *middleware.Authenticator
	RateLimiter *middleware.RateLimiter
}

// Server routes API requests to entity handlers
type Server struct {
	deps   Deps
	router *mux.Router
}

// NewServer creates the API server and wires all routes
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	r := s.router.PathPrefix("/api/v1").Subrouter()

	// User routes
	r.HandleFunc("/users", s.registerUser).Methods("POST")
	r.HandleFunc("/users/authenticate", s.authenticateUser).Methods("POST")
	r.Handle("/users/me", s.userOnly(s.currentUser)).Methods("GET")

	// Group routes
	r.Handle("/groups", s.userOnly(s.createGroup)).Methods("POST")
	r.Handle("/groups", s.userOnly(s.queryGroups)).Methods("GET")
	r.Handle("/groups/users", s.userOnly(s.addGroupUser)).Methods("POST")
	r.Handle("/groups/users", s.userOnly(s.removeGroupUser)).Methods("DELETE")
	r.Handle("/groups/{groupName}/users", s.userOnly(s.listGroupUsers)).Methods("GET")
	r.Handle("/groups/{groupName}/permissions", s.userOnly(s.groupPermissions)).Methods("GET")
	r.Handle("/groups/{groupName}/stations", s.userOnly(s.importStations)).Methods("POST")
	r.Handle("/groups/{groupName}/stations", s.userOnly(s.listStations)).Methods("GET")

	// Device routes
	r.HandleFunc("/devices", s.registerDevice).Methods("POST")
	r.HandleFunc("/devices/authenticate", s.authenticateDevice).Methods("POST")
	r.Handle("/devices/reregister", s.deviceOnly(s.reregisterDevice)).Methods("POST")
	r.Handle("/devices", s.userOnly(s.queryDevices)).Methods("GET")
	r.Handle("/devices/query", s.userOnly(s.queryDevicesBulk)).Methods("GET")
	r.Handle("/devices/users", s.userOnly(s.listDeviceUsers)).Methods("GET")
	r.Handle("/devices/users", s.userOnly(s.addDeviceUser)).Methods("POST")
	r.Handle("/devices/users", s.userOnly(s.removeDeviceUser)).Methods("DELETE")

	// Event routes
	r.Handle("/events", s.deviceOnly(s.postEvents)).Methods("POST")
	r.Handle("/events", s.userOnly(s.queryEvents)).Methods("GET")

	// Recording routes
	r.Handle("/recordings", s.deviceOnly(s.uploadRecording)).Methods("POST")
	r.Handle("/recordings", s.userOnly(s.queryRecordings)).Methods("GET")
	r.Handle("/recordings/{id:[0-9]+}", s.userOnly(s.getRecording)).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router for outer middleware wrapping
func (s *Server) Router() *mux.Router {
	return s.router
}

// userOnly authenticates and requires a user principal
func (s *Server) userOnly(h http.HandlerFunc) http.Handler {
	return s.protect(middleware.RequireUser(h))
}

// deviceOnly authenticates and requires a device principal
func (s *Server) deviceOnly(h http.HandlerFunc) http.Handler {
	return s.protect(middleware.RequireDevice(h))
}

func (s *Server) protect(h http.Handler) http.Handler {
	if s.deps.RateLimiter != nil {
		h = s.deps.RateLimiter.Handler(h)
	}
	return s.deps.Authn.Handler(h)
}

// authorize resolves the calling user's access scope. Must only be
// called from handlers behind userOnly.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (auth.Authorization, *auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok || !principal.IsUser() {
		httputil.WriteUnauthorized(w, "authentication required")
		return auth.Authorization{}, nil, false
	}

	authz, err := s.deps.Resolver.Authorize(r.Context(), principal.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return auth.Authorization{}, nil, false
	}
	return authz, principal, true
}

// devicePrincipal fetches the calling device. Must only be called from
// handlers behind deviceOnly.
func (s *Server) devicePrincipal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok || !principal.IsDevice() {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}
	return principal, true
}

// record writes an audit entry when a recorder is configured
func (s *Server) record(entry audit.Entry) {
	if s.deps.Auditor != nil {
		s.deps.Auditor.Record(entry)
	}
}
