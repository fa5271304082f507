// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package credential models the secrets every keystone unit must agree
// on. Keystone cannot report a password back once set, so the unit that
// chose one records it here and the leader publishes it to its peers.
package credential

import (
	"reflect"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"
)

// Credentials are the generated admin secrets and the passwords issued to
// service users.
type Credentials struct {
	AdminToken    string `yaml:"admin-token,omitempty"`
	AdminPassword string `yaml:"admin-password,omitempty"`

	// Services maps service usernames to their passwords.
	Services map[string]string `yaml:"services,omitempty"`
}

// Merge returns c overlaid with the values set in other.
func (c Credentials) Merge(other Credentials) Credentials {
	result := Credentials{
		AdminToken:    c.AdminToken,
		AdminPassword: c.AdminPassword,
	}
	if other.AdminToken != "" {
		result.AdminToken = other.AdminToken
	}
	if other.AdminPassword != "" {
		result.AdminPassword = other.AdminPassword
	}
	for _, m := range []map[string]string{c.Services, other.Services} {
		for user, password := range m {
			if result.Services == nil {
				result.Services = make(map[string]string)
			}
			result.Services[user] = password
		}
	}
	return result
}

// Equal reports whether c and other hold the same secrets. A nil and an
// empty Services are equal.
func (c Credentials) Equal(other Credentials) bool {
	if c.AdminToken != other.AdminToken || c.AdminPassword != other.AdminPassword {
		return false
	}
	if len(c.Services) == 0 && len(other.Services) == 0 {
		return true
	}
	return reflect.DeepEqual(c.Services, other.Services)
}

// Parse decodes published credentials.
func Parse(data []byte) (Credentials, error) {
	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return Credentials{}, errors.NotValidf("credentials: %v", err)
	}
	return creds, nil
}

// Marshal encodes the credentials in their published form.
func (c Credentials) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	return data, errors.Trace(err)
}
