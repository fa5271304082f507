// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package testing provides an in-memory keystone v2.0 admin API served
// over HTTP.
package testing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"

	"github.com/google/uuid"
)

const authToken = "X-Auth-Token"

// User is a user the server holds, password included.
type User struct {
	ID       string
	Name     string
	Password string
	TenantID string
}

// Endpoint is an endpoint the server holds.
type Endpoint struct {
	ID          string
	Region      string
	ServiceID   string
	PublicURL   string
	AdminURL    string
	InternalURL string
}

type named struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type wireTenant struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

type wireUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Password string `json:"password,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
	Enabled  bool   `json:"enabled"`
}

type wireService struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type wireEndpoint struct {
	ID          string `json:"id"`
	Region      string `json:"region"`
	ServiceID   string `json:"service_id"`
	PublicURL   string `json:"publicurl"`
	AdminURL    string `json:"adminurl"`
	InternalURL string `json:"internalurl"`
}

type grant struct {
	user, tenant, role string
}

// Server is a keystone admin API double. Requests must carry a token in
// X-Auth-Token: the configured one, or any token when none is configured.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	token     string
	failures  int
	tenants   []wireTenant
	roles     []named
	users     []wireUser
	grants    []grant
	services  []wireService
	endpoints []wireEndpoint
	requests  []string
	tokens    []string
}

// NewServer starts a Server accepting token. The caller closes it.
func NewServer(token string) *Server {
	s := &Server{token: token}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2.0/tenants", s.listTenants)
	mux.HandleFunc("POST /v2.0/tenants", s.createTenant)
	mux.HandleFunc("GET /v2.0/OS-KSADM/roles", s.listRoles)
	mux.HandleFunc("POST /v2.0/OS-KSADM/roles", s.createRole)
	mux.HandleFunc("GET /v2.0/users", s.listUsers)
	mux.HandleFunc("POST /v2.0/users", s.createUser)
	mux.HandleFunc("PUT /v2.0/users/{user}/OS-KSADM/password", s.setPassword)
	mux.HandleFunc("GET /v2.0/tenants/{tenant}/users/{user}/roles", s.listGrants)
	mux.HandleFunc("PUT /v2.0/tenants/{tenant}/users/{user}/roles/OS-KSADM/{role}", s.grantRole)
	mux.HandleFunc("GET /v2.0/OS-KSADM/services", s.listServices)
	mux.HandleFunc("POST /v2.0/OS-KSADM/services", s.createService)
	mux.HandleFunc("GET /v2.0/endpoints", s.listEndpoints)
	mux.HandleFunc("POST /v2.0/endpoints", s.createEndpoint)
	mux.HandleFunc("DELETE /v2.0/endpoints/{endpoint}", s.deleteEndpoint)
	s.Server = httptest.NewServer(s.authorize(mux))
	return s
}

// APIURL returns the API root, ending in /v2.0.
func (s *Server) APIURL() string {
	return s.Server.URL + "/v2.0"
}

// FailNext makes the next n requests fail with a server error.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// Requests returns "METHOD path" for every request received.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Writes returns the requests that were not reads.
func (s *Server) Writes() []string {
	var writes []string
	for _, r := range s.Requests() {
		if len(r) < 4 || r[:4] != "GET " {
			writes = append(writes, r)
		}
	}
	return writes
}

// Tokens returns the distinct tokens requests carried, in the order first
// seen.
func (s *Server) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

// AddUser stores a user directly, as if created earlier.
func (s *Server) AddUser(name, password string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := wireUser{ID: newID(), Name: name, Password: password, Enabled: true}
	s.users = append(s.users, u)
	return User{ID: u.ID, Name: u.Name, Password: u.Password}
}

// User returns the named user.
func (s *Server) User(name string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Name == name {
			return User{ID: u.ID, Name: u.Name, Password: u.Password, TenantID: u.TenantID}, true
		}
	}
	return User{}, false
}

// Tenants returns the names of every tenant, sorted.
func (s *Server) Tenants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, t := range s.tenants {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// Roles returns the sorted names of the roles the named user holds in the
// named tenant.
func (s *Server) Roles(userName, tenantName string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var userID, tenantID string
	for _, u := range s.users {
		if u.Name == userName {
			userID = u.ID
		}
	}
	for _, t := range s.tenants {
		if t.Name == tenantName {
			tenantID = t.ID
		}
	}
	var names []string
	for _, g := range s.grants {
		if g.user != userID || g.tenant != tenantID {
			continue
		}
		for _, r := range s.roles {
			if r.ID == g.role {
				names = append(names, r.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// Endpoints returns the endpoints of the named service.
func (s *Server) Endpoints(serviceName string) []Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	var serviceID string
	for _, svc := range s.services {
		if svc.Name == serviceName {
			serviceID = svc.ID
		}
	}
	var result []Endpoint
	for _, e := range s.endpoints {
		if e.ServiceID == serviceID {
			result = append(result, Endpoint(e))
		}
	}
	return result
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		token := r.Header.Get(authToken)
		seen := false
		for _, t := range s.tokens {
			seen = seen || t == token
		}
		if token != "" && !seen {
			s.tokens = append(s.tokens, token)
		}
		failing := s.failures > 0
		if failing {
			s.failures--
		}
		s.mu.Unlock()

		if failing {
			writeError(w, http.StatusInternalServerError, "Internal Server Error", "keystone is starting")
			return
		}
		if token == "" || (s.token != "" && token != s.token) {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "The request you have made requires authentication.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listTenants(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"tenants": nonNil(s.tenants)})
}

func (s *Server) createTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tenant wireTenant `json:"tenant"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.Name == req.Tenant.Name {
			writeError(w, http.StatusConflict, "Conflict", "Duplicate tenant name")
			return
		}
	}
	req.Tenant.ID = newID()
	s.tenants = append(s.tenants, req.Tenant)
	writeJSON(w, http.StatusOK, map[string]interface{}{"tenant": req.Tenant})
}

func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": nonNil(s.roles)})
}

func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role named `json:"role"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.Name == req.Role.Name {
			writeError(w, http.StatusConflict, "Conflict", "Duplicate role name")
			return
		}
	}
	req.Role.ID = newID()
	s.roles = append(s.roles, req.Role)
	writeJSON(w, http.StatusOK, map[string]interface{}{"role": req.Role})
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]wireUser, 0, len(s.users))
	for _, u := range s.users {
		u.Password = ""
		users = append(users, u)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User wireUser `json:"user"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Name == req.User.Name {
			writeError(w, http.StatusConflict, "Conflict", "Duplicate user name")
			return
		}
	}
	req.User.ID = newID()
	s.users = append(s.users, req.User)
	created := req.User
	created.Password = ""
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": created})
}

func (s *Server) setPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User wireUser `json:"user"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, u := range s.users {
		if u.ID == r.PathValue("user") {
			s.users[i].Password = req.User.Password
			u.Password = ""
			writeJSON(w, http.StatusOK, map[string]interface{}{"user": u})
			return
		}
	}
	writeError(w, http.StatusNotFound, "Not Found", "Could not find user")
}

func (s *Server) listGrants(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roles := []named{}
	for _, g := range s.grants {
		if g.user != r.PathValue("user") || g.tenant != r.PathValue("tenant") {
			continue
		}
		for _, role := range s.roles {
			if role.ID == g.role {
				roles = append(roles, role)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
}

func (s *Server) grantRole(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := grant{user: r.PathValue("user"), tenant: r.PathValue("tenant"), role: r.PathValue("role")}
	for _, existing := range s.grants {
		if existing == g {
			writeError(w, http.StatusConflict, "Conflict", "User already has role assignment")
			return
		}
	}
	for _, role := range s.roles {
		if role.ID == g.role {
			s.grants = append(s.grants, g)
			writeJSON(w, http.StatusOK, map[string]interface{}{"role": role})
			return
		}
	}
	writeError(w, http.StatusNotFound, "Not Found", "Could not find role")
}

func (s *Server) listServices(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"OS-KSADM:services": nonNil(s.services)})
}

func (s *Server) createService(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Service wireService `json:"OS-KSADM:service"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req.Service.ID = newID()
	s.services = append(s.services, req.Service)
	writeJSON(w, http.StatusOK, map[string]interface{}{"OS-KSADM:service": req.Service})
}

func (s *Server) listEndpoints(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"endpoints": nonNil(s.endpoints)})
}

func (s *Server) createEndpoint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint wireEndpoint `json:"endpoint"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req.Endpoint.ID = newID()
	s.endpoints = append(s.endpoints, req.Endpoint)
	writeJSON(w, http.StatusOK, map[string]interface{}{"endpoint": req.Endpoint})
}

func (s *Server) deleteEndpoint(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.endpoints {
		if e.ID == r.PathValue("endpoint") {
			s.endpoints = append(s.endpoints[:i], s.endpoints[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Not Found", "Could not find endpoint")
}

func newID() string {
	return uuid.NewString()
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, title, message string) {
	writeJSON(w, code, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    code,
			"title":   title,
		},
	})
}
