// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package service provides the identity catalog operations the keystone
// hooks perform: bootstrapping the admin identity and registering
// downstream services. Every operation checks what exists first, so
// repeating it with the same inputs writes nothing.
package service

import (
	"context"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"

	"github.com/juju/keystone-agent/domain/identity"
)

// State describes retrieval and persistence methods for the catalog.
type State interface {
	Ready(ctx context.Context) error
	EnsureTenant(ctx context.Context, name string) (identity.Tenant, bool, error)
	EnsureRole(ctx context.Context, name string) (string, bool, error)
	GetUser(ctx context.Context, name string) (identity.User, error)
	CreateUser(ctx context.Context, u identity.User) (identity.User, error)
	SetPassword(ctx context.Context, userID, password string) error
	GrantRole(ctx context.Context, userID, roleID, tenantID string) (bool, error)
	EnsureService(ctx context.Context, svc identity.Service) (identity.Service, bool, error)
	EnsureEndpoint(ctx context.Context, ep identity.Endpoint) (identity.Endpoint, bool, error)
}

// Logger represents the logging methods called.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
}

// Service provides the API for the identity catalog.
type Service struct {
	st          State
	logger      Logger
	newPassword func() (string, error)
}

// NewService returns a new Service over st.
func NewService(st State, logger Logger) *Service {
	return &Service{
		st:          st,
		logger:      logger,
		newPassword: utils.RandomPassword,
	}
}

// Ready waits until the catalog answers.
func (s *Service) Ready(ctx context.Context) error {
	return errors.Trace(s.st.Ready(ctx))
}

// EndpointURLs are the three URLs of a catalog endpoint.
type EndpointURLs struct {
	Public   string
	Admin    string
	Internal string
}

// AdminArgs describes the bootstrap admin identity.
type AdminArgs struct {
	Username string
	Password string
	Role     string
	Region   string

	// Identity holds the URLs keystone's own service is advertised at.
	Identity EndpointURLs
}

// Validate returns an error if the args are incomplete.
func (a AdminArgs) Validate() error {
	switch {
	case a.Username == "":
		return errors.NotValidf("empty admin username")
	case a.Password == "":
		return errors.NotValidf("empty admin password")
	case a.Role == "":
		return errors.NotValidf("empty admin role")
	case a.Region == "":
		return errors.NotValidf("empty region")
	}
	return nil
}

// EnsureInitialAdmin creates the admin and services tenants, the keystone
// roles, the admin user with its role, and keystone's own identity service
// and endpoint, for whatever of those do not already exist. It reports
// whether anything was written.
func (s *Service) EnsureInitialAdmin(ctx context.Context, args AdminArgs) (bool, error) {
	if err := args.Validate(); err != nil {
		return false, errors.Trace(err)
	}
	var changed bool
	track := func(c bool) {
		changed = changed || c
	}

	admin, c, err := s.st.EnsureTenant(ctx, identity.AdminTenant)
	if err != nil {
		return false, errors.Trace(err)
	}
	track(c)
	_, c, err = s.st.EnsureTenant(ctx, identity.ServiceTenant)
	if err != nil {
		return false, errors.Trace(err)
	}
	track(c)

	roles := make(map[string]string)
	for _, name := range []string{args.Role, identity.KeystoneAdminRole, identity.KeystoneServiceAdminRole, identity.MemberRole} {
		id, c, err := s.st.EnsureRole(ctx, name)
		if err != nil {
			return false, errors.Trace(err)
		}
		track(c)
		roles[name] = id
	}

	// An existing admin keeps whatever password it has.
	user, err := s.st.GetUser(ctx, args.Username)
	if errors.IsNotFound(err) {
		user, err = s.st.CreateUser(ctx, identity.User{
			Name:     args.Username,
			Password: args.Password,
			TenantID: admin.ID,
		})
		track(true)
	}
	if err != nil {
		return false, errors.Annotatef(err, "ensuring admin user %q", args.Username)
	}
	for _, role := range []string{args.Role, identity.KeystoneAdminRole, identity.KeystoneServiceAdminRole} {
		c, err := s.st.GrantRole(ctx, user.ID, roles[role], admin.ID)
		if err != nil {
			return false, errors.Trace(err)
		}
		track(c)
	}

	c, err = s.ensureEndpoint(ctx, "keystone", args.Region, args.Identity)
	if err != nil {
		return false, errors.Trace(err)
	}
	track(c)

	if changed {
		s.logger.Infof("initial admin %q ensured", args.Username)
	} else {
		s.logger.Debugf("initial admin %q already exists", args.Username)
	}
	return changed, nil
}

// ServiceEndpoint is one endpoint a downstream service asked for.
type ServiceEndpoint struct {
	Service string
	Region  string
	URLs    EndpointURLs
}

// RegisterArgs describes a downstream registration request.
type RegisterArgs struct {
	Endpoints []ServiceEndpoint

	// Role is granted to the service user in the services tenant.
	Role string

	// RequestedRoles are created and granted to AdminUser in the admin
	// tenant.
	RequestedRoles []string
	AdminUser      string

	// KnownPassword looks up a password issued earlier, possibly by
	// another unit. Keystone cannot report it back.
	KnownPassword func(username string) (string, bool)
}

// Registration is the result of registering a downstream service.
type Registration struct {
	Username string
	Password string
	Tenant   string

	// Registered lists the services added to the catalog, sorted.
	Registered []string

	// Changed reports whether anything was written.
	Changed bool
}

// ServiceUsername returns the catalog user shared by the named services.
func ServiceUsername(services []string) string {
	sorted := append([]string(nil), services...)
	sort.Strings(sorted)
	return strings.Join(sorted, "_")
}

// RegisterService adds or updates the requested services and their
// endpoints, and ensures a service user in the services tenant. An
// existing user keeps its password as long as KnownPassword reports it.
func (s *Service) RegisterService(ctx context.Context, args RegisterArgs) (Registration, error) {
	if len(args.Endpoints) == 0 {
		return Registration{}, errors.NotValidf("registration without endpoints")
	}
	if args.Role == "" {
		return Registration{}, errors.NotValidf("empty service role")
	}
	var result Registration
	track := func(c bool) {
		result.Changed = result.Changed || c
	}

	for _, ep := range args.Endpoints {
		if _, ok := identity.ServiceType(ep.Service); !ok {
			s.logger.Warningf("unknown service %q requested, skipping", ep.Service)
			continue
		}
		c, err := s.ensureEndpoint(ctx, ep.Service, ep.Region, ep.URLs)
		if err != nil {
			return Registration{}, errors.Trace(err)
		}
		track(c)
		result.Registered = append(result.Registered, ep.Service)
	}
	if len(result.Registered) == 0 {
		return Registration{}, errors.NotValidf("no known service requested")
	}
	sort.Strings(result.Registered)

	tenant, c, err := s.st.EnsureTenant(ctx, identity.ServiceTenant)
	if err != nil {
		return Registration{}, errors.Trace(err)
	}
	track(c)
	roleID, c, err := s.st.EnsureRole(ctx, args.Role)
	if err != nil {
		return Registration{}, errors.Trace(err)
	}
	track(c)

	username := ServiceUsername(result.Registered)
	user, password, c, err := s.ensureServiceUser(ctx, username, tenant.ID, args.KnownPassword)
	if err != nil {
		return Registration{}, errors.Trace(err)
	}
	track(c)
	c, err = s.st.GrantRole(ctx, user.ID, roleID, tenant.ID)
	if err != nil {
		return Registration{}, errors.Trace(err)
	}
	track(c)

	if len(args.RequestedRoles) > 0 {
		c, err := s.grantRequestedRoles(ctx, args.AdminUser, args.RequestedRoles)
		if err != nil {
			return Registration{}, errors.Trace(err)
		}
		track(c)
	}

	result.Username = username
	result.Password = password
	result.Tenant = identity.ServiceTenant
	return result, nil
}

// ensureServiceUser returns the named service user and its password,
// creating the user when missing. A user whose password nobody recorded
// gets a new one.
func (s *Service) ensureServiceUser(
	ctx context.Context, username, tenantID string, known func(string) (string, bool),
) (identity.User, string, bool, error) {
	var (
		password  string
		haveKnown bool
	)
	if known != nil {
		password, haveKnown = known(username)
	}
	existing, err := s.st.GetUser(ctx, username)
	if err == nil && haveKnown {
		return existing, password, false, nil
	} else if err == nil {
		s.logger.Warningf("no password recorded for service user %q, resetting it", username)
		if password, err = s.newPassword(); err != nil {
			return identity.User{}, "", false, errors.Annotate(err, "generating service password")
		}
		if err := s.st.SetPassword(ctx, existing.ID, password); err != nil {
			return identity.User{}, "", false, errors.Annotatef(err, "resetting password of %q", username)
		}
		return existing, password, true, nil
	} else if !errors.IsNotFound(err) {
		return identity.User{}, "", false, errors.Trace(err)
	}

	if haveKnown {
		s.logger.Debugf("reusing issued password for %q", username)
	} else if password, err = s.newPassword(); err != nil {
		return identity.User{}, "", false, errors.Annotate(err, "generating service password")
	}
	user, err := s.st.CreateUser(ctx, identity.User{
		Name:     username,
		Password: password,
		TenantID: tenantID,
	})
	if err != nil {
		return identity.User{}, "", false, errors.Annotatef(err, "creating service user %q", username)
	}
	return user, password, true, nil
}

func (s *Service) grantRequestedRoles(ctx context.Context, adminUser string, roles []string) (bool, error) {
	admin, err := s.st.GetUser(ctx, adminUser)
	if errors.IsNotFound(err) {
		s.logger.Warningf("admin user %q missing, not granting requested roles %v", adminUser, roles)
		return false, nil
	} else if err != nil {
		return false, errors.Trace(err)
	}
	tenant, changed, err := s.st.EnsureTenant(ctx, identity.AdminTenant)
	if err != nil {
		return false, errors.Trace(err)
	}
	for _, name := range roles {
		roleID, c, err := s.st.EnsureRole(ctx, name)
		if err != nil {
			return false, errors.Trace(err)
		}
		changed = changed || c
		c, err = s.st.GrantRole(ctx, admin.ID, roleID, tenant.ID)
		if err != nil {
			return false, errors.Trace(err)
		}
		changed = changed || c
	}
	return changed, nil
}

func (s *Service) ensureEndpoint(ctx context.Context, name, region string, urls EndpointURLs) (bool, error) {
	serviceType, ok := identity.ServiceType(name)
	if !ok {
		return false, errors.NotValidf("service %q", name)
	}
	svc, changed, err := s.st.EnsureService(ctx, identity.Service{
		Name:        name,
		Type:        serviceType,
		Description: name + " service",
	})
	if err != nil {
		return false, errors.Trace(err)
	}
	_, c, err := s.st.EnsureEndpoint(ctx, identity.Endpoint{
		ServiceID:   svc.ID,
		Region:      region,
		PublicURL:   urls.Public,
		AdminURL:    urls.Admin,
		InternalURL: urls.Internal,
	})
	if err != nil {
		return false, errors.Trace(err)
	}
	return changed || c, nil
}
