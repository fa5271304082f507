// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package keystoneapi

import (
	"context"
	"net/http"
	"net/url"

	"github.com/juju/errors"

	"github.com/juju/keystone-agent/domain/identity"
)

// EnsureTenant creates the named tenant unless it exists, and returns it.
func (c *Client) EnsureTenant(ctx context.Context, name string) (identity.Tenant, bool, error) {
	var list tenantList
	if err := c.request(http.MethodGet, "/tenants", nil, &list, http.StatusOK); err != nil {
		return identity.Tenant{}, false, errors.Annotate(err, "listing tenants")
	}
	for _, t := range list.Tenants {
		if t.Name == name {
			return identity.Tenant{ID: t.ID, Name: t.Name}, false, nil
		}
	}
	var created tenantBody
	req := tenantBody{Tenant: tenant{Name: name, Description: "Created by Juju", Enabled: true}}
	if err := c.request(http.MethodPost, "/tenants", req, &created, http.StatusOK, http.StatusCreated); err != nil {
		return identity.Tenant{}, false, errors.Annotatef(err, "creating tenant %q", name)
	}
	c.config.Logger.Infof("created tenant %q", name)
	return identity.Tenant{ID: created.Tenant.ID, Name: created.Tenant.Name}, true, nil
}

// EnsureRole creates the named role unless it exists, and returns its ID.
func (c *Client) EnsureRole(ctx context.Context, name string) (string, bool, error) {
	var list roleList
	if err := c.request(http.MethodGet, "/OS-KSADM/roles", nil, &list, http.StatusOK); err != nil {
		return "", false, errors.Annotate(err, "listing roles")
	}
	for _, r := range list.Roles {
		if r.Name == name {
			return r.ID, false, nil
		}
	}
	var created roleBody
	if err := c.request(http.MethodPost, "/OS-KSADM/roles", roleBody{Role: role{Name: name}}, &created, http.StatusOK, http.StatusCreated); err != nil {
		return "", false, errors.Annotatef(err, "creating role %q", name)
	}
	c.config.Logger.Infof("created role %q", name)
	return created.Role.ID, true, nil
}

// GetUser returns the named user, or a NotFound error. The password is
// never set.
func (c *Client) GetUser(ctx context.Context, name string) (identity.User, error) {
	var list userList
	if err := c.request(http.MethodGet, "/users", nil, &list, http.StatusOK); err != nil {
		return identity.User{}, errors.Annotate(err, "listing users")
	}
	for _, u := range list.Users {
		if u.Name == name {
			return identity.User{ID: u.ID, Name: u.Name, TenantID: u.TenantID}, nil
		}
	}
	return identity.User{}, errors.NotFoundf("user %q", name)
}

// CreateUser creates u in its tenant.
func (c *Client) CreateUser(ctx context.Context, u identity.User) (identity.User, error) {
	req := userBody{User: user{
		Name:     u.Name,
		Password: u.Password,
		TenantID: u.TenantID,
		Enabled:  true,
	}}
	var created userBody
	if err := c.request(http.MethodPost, "/users", req, &created, http.StatusOK, http.StatusCreated); err != nil {
		return identity.User{}, errors.Annotatef(err, "creating user %q", u.Name)
	}
	c.config.Logger.Infof("created user %q", u.Name)
	return identity.User{
		ID:       created.User.ID,
		Name:     created.User.Name,
		Password: u.Password,
		TenantID: created.User.TenantID,
	}, nil
}

// SetPassword replaces the password of the user with the given ID.
func (c *Client) SetPassword(ctx context.Context, userID, password string) error {
	path := "/users/" + url.PathEscape(userID) + "/OS-KSADM/password"
	req := userBody{User: user{ID: userID, Password: password, Enabled: true}}
	if err := c.request(http.MethodPut, path, req, nil, http.StatusOK); err != nil {
		return errors.Annotatef(err, "setting password of user %s", userID)
	}
	return nil
}

// GrantRole gives the user the role in the tenant unless it has it.
func (c *Client) GrantRole(ctx context.Context, userID, roleID, tenantID string) (bool, error) {
	path := "/tenants/" + url.PathEscape(tenantID) + "/users/" + url.PathEscape(userID) + "/roles"
	var list roleList
	if err := c.request(http.MethodGet, path, nil, &list, http.StatusOK); err != nil {
		return false, errors.Annotatef(err, "listing roles of user %s", userID)
	}
	for _, r := range list.Roles {
		if r.ID == roleID {
			return false, nil
		}
	}
	if err := c.request(http.MethodPut, path+"/OS-KSADM/"+url.PathEscape(roleID), nil, nil, http.StatusOK, http.StatusCreated); err != nil {
		return false, errors.Annotatef(err, "granting role %s to user %s", roleID, userID)
	}
	c.config.Logger.Debugf("granted role %s to user %s in tenant %s", roleID, userID, tenantID)
	return true, nil
}
