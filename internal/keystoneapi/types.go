// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package keystoneapi

// The wire forms of the v2.0 admin API.

type tenant struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

type tenantBody struct {
	Tenant tenant `json:"tenant"`
}

type tenantList struct {
	Tenants []tenant `json:"tenants"`
}

type role struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type roleBody struct {
	Role role `json:"role"`
}

type roleList struct {
	Roles []role `json:"roles"`
}

type user struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
	Email    string `json:"email,omitempty"`
	Enabled  bool   `json:"enabled"`
}

type userBody struct {
	User user `json:"user"`
}

type userList struct {
	Users []user `json:"users"`
}

type service struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type serviceBody struct {
	Service service `json:"OS-KSADM:service"`
}

type serviceList struct {
	Services []service `json:"OS-KSADM:services"`
}

type endpoint struct {
	ID          string `json:"id,omitempty"`
	Region      string `json:"region"`
	ServiceID   string `json:"service_id"`
	PublicURL   string `json:"publicurl"`
	AdminURL    string `json:"adminurl"`
	InternalURL string `json:"internalurl"`
}

type endpointBody struct {
	Endpoint endpoint `json:"endpoint"`
}

type endpointList struct {
	Endpoints []endpoint `json:"endpoints"`
}
