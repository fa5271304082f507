// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package identity models the keystone identity catalog: the tenants,
// users and roles keystone authenticates, and the services and endpoints
// it advertises.
package identity

// The tenants and roles keystone bootstraps.
const (
	AdminTenant   = "admin"
	ServiceTenant = "services"

	KeystoneAdminRole        = "KeystoneAdmin"
	KeystoneServiceAdminRole = "KeystoneServiceAdmin"
	MemberRole               = "Member"
)

// Tenant is a keystone project. Keystone assigns the ID.
type Tenant struct {
	ID   string
	Name string
}

// User is a keystone user and the tenant it belongs to. Keystone never
// reports a password back, so Password is only set on users being
// created.
type User struct {
	ID       string
	Name     string
	Password string
	TenantID string
}

// Service is an entry in the service catalog.
type Service struct {
	ID          string
	Name        string
	Type        string
	Description string
}

// Endpoint is a service's URLs in one region.
type Endpoint struct {
	ID          string
	ServiceID   string
	Region      string
	PublicURL   string
	AdminURL    string
	InternalURL string
}

// SameURLs reports whether e and other advertise the same URLs.
func (e Endpoint) SameURLs(other Endpoint) bool {
	return e.PublicURL == other.PublicURL &&
		e.AdminURL == other.AdminURL &&
		e.InternalURL == other.InternalURL
}

var serviceTypes = map[string]string{
	"nova":        "compute",
	"nova-volume": "volume",
	"cinder":      "volume",
	"glance":      "image",
	"neutron":     "network",
	"quantum":     "network",
	"swift":       "object-store",
	"s3":          "s3",
	"ec2":         "ec2",
	"heat":        "orchestration",
	"heat-cfn":    "cloudformation",
	"ceilometer":  "metering",
	"keystone":    "identity",
}

// ServiceType returns the catalog type of a known service name.
func ServiceType(name string) (string, bool) {
	t, ok := serviceTypes[name]
	return t, ok
}
