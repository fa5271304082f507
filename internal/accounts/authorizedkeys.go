// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package accounts

import (
	"bufio"
	"io"
	"strings"

	"github.com/juju/errors"
	"golang.org/x/crypto/ssh"
)

// SplitAuthorizedKeys returns the keys held in authorized_keys formatted
// data, skipping blank and comment lines.
func SplitAuthorizedKeys(r io.Reader) ([]string, error) {
	var keys []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	return keys, errors.Trace(scanner.Err())
}

// MakeAuthorizedKeysString returns keys as authorized_keys file content.
func MakeAuthorizedKeysString(keys []string) string {
	var b strings.Builder
	for _, key := range keys {
		b.WriteString(strings.TrimSpace(key))
		b.WriteByte('\n')
	}
	return b.String()
}

// ValidateAuthorizedKey returns an error if key is not a public key in
// authorized_keys format.
func ValidateAuthorizedKey(key string) error {
	if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
		return errors.NotValidf("authorized key %q", key)
	}
	return nil
}
