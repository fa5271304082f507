// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package accounts manages the local account keystone units use to reach
// each other, and the ssh keys exchanged over the peer relation.
package accounts

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/utils/v4"
	"golang.org/x/crypto/ssh"
)

const (
	// DefaultUser is the peer synchronisation account.
	DefaultUser = "juju_keystone"

	// DefaultGroup owns the peer account and the keystone state.
	DefaultGroup = "juju_keystone"

	keyName = "id_ed25519"
)

// Commander runs account management commands.
type Commander interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
	Check(ctx context.Context, args ...string) (bool, error)
}

// Logger represents the logging methods called.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
}

// Config holds the dependencies and parameters of an Account.
type Config struct {
	User      string
	Group     string
	HomeDir   string
	Commander Commander
	Logger    Logger
}

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	if config.User == "" {
		return errors.NotValidf("empty User")
	}
	if config.Group == "" {
		return errors.NotValidf("empty Group")
	}
	if config.HomeDir == "" {
		return errors.NotValidf("empty HomeDir")
	}
	if config.Commander == nil {
		return errors.NotValidf("nil Commander")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Account is a local user whose ssh key is shared with peers.
type Account struct {
	config Config
}

// NewAccount returns an Account for config.
func NewAccount(config Config) (*Account, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Account{config: config}, nil
}

// HomeDir returns the account's home directory.
func (a *Account) HomeDir() string {
	return a.config.HomeDir
}

func (a *Account) sshDir() string {
	return filepath.Join(a.config.HomeDir, ".ssh")
}

// Ensure creates the group, the user and its home directory when missing.
// The home directory is group writable.
func (a *Account) Ensure(ctx context.Context) error {
	cmd := a.config.Commander
	exists, err := cmd.Check(ctx, "getent", "group", a.config.Group)
	if err != nil {
		return errors.Trace(err)
	}
	if !exists {
		a.config.Logger.Infof("creating group %q", a.config.Group)
		if _, err := cmd.Run(ctx, "groupadd", "--system", a.config.Group); err != nil {
			return errors.Annotatef(err, "creating group %q", a.config.Group)
		}
	}
	exists, err = cmd.Check(ctx, "getent", "passwd", a.config.User)
	if err != nil {
		return errors.Trace(err)
	}
	if !exists {
		a.config.Logger.Infof("creating user %q", a.config.User)
		if _, err := cmd.Run(ctx,
			"useradd", "--system",
			"--gid", a.config.Group,
			"--home-dir", a.config.HomeDir,
			"--shell", "/bin/bash",
			a.config.User,
		); err != nil {
			return errors.Annotatef(err, "creating user %q", a.config.User)
		}
	}
	if err := os.MkdirAll(a.config.HomeDir, 0775); err != nil {
		return errors.Trace(err)
	}
	if err := os.Chmod(a.config.HomeDir, 0775); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(a.chown(ctx, a.config.HomeDir))
}

func (a *Account) chown(ctx context.Context, path string) error {
	_, err := a.config.Commander.Run(ctx, "chown", "-R", a.config.User+":"+a.config.Group, path)
	return errors.Annotatef(err, "changing owner of %s", path)
}

// PublicKey returns the account's public key in authorized_keys format,
// generating the key pair on first use.
func (a *Account) PublicKey(ctx context.Context) (string, error) {
	pubPath := filepath.Join(a.sshDir(), keyName+".pub")
	data, err := os.ReadFile(pubPath)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	} else if !os.IsNotExist(err) {
		return "", errors.Trace(err)
	}

	a.config.Logger.Infof("generating ssh key for %q", a.config.User)
	public, private, err := generateKey(a.config.User)
	if err != nil {
		return "", errors.Trace(err)
	}
	if err := os.MkdirAll(a.sshDir(), 0700); err != nil {
		return "", errors.Trace(err)
	}
	if err := utils.AtomicWriteFile(filepath.Join(a.sshDir(), keyName), private, 0600); err != nil {
		return "", errors.Trace(err)
	}
	if err := utils.AtomicWriteFile(pubPath, public, 0644); err != nil {
		return "", errors.Trace(err)
	}
	if err := a.chown(ctx, a.sshDir()); err != nil {
		return "", errors.Trace(err)
	}
	return strings.TrimSpace(string(public)), nil
}

func generateKey(comment string) ([]byte, []byte, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	public := bytes.TrimSpace(ssh.MarshalAuthorizedKey(sshPub))
	public = append(public, []byte(" "+comment+"\n")...)
	return public, pem.EncodeToMemory(block), nil
}

// AuthorizePeers writes authorized_keys so that it holds exactly the valid
// keys found in values, sorted. A value may hold several keys, one per
// line. Invalid keys are logged and skipped. It reports whether the file
// changed.
func (a *Account) AuthorizePeers(ctx context.Context, values []string) (bool, error) {
	valid := set.NewStrings()
	for _, value := range values {
		split, err := SplitAuthorizedKeys(strings.NewReader(value))
		if err != nil {
			return false, errors.Trace(err)
		}
		for _, key := range split {
			if err := ValidateAuthorizedKey(key); err != nil {
				a.config.Logger.Warningf("skipping peer key: %v", err)
				continue
			}
			valid.Add(key)
		}
	}
	sorted := valid.SortedValues()
	content := []byte(MakeAuthorizedKeysString(sorted))

	path := filepath.Join(a.sshDir(), "authorized_keys")
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, errors.Trace(err)
	}
	if err == nil && bytes.Equal(existing, content) {
		a.config.Logger.Debugf("%s unchanged", path)
		return false, nil
	}
	if err := os.MkdirAll(a.sshDir(), 0700); err != nil {
		return false, errors.Trace(err)
	}
	if err := utils.AtomicWriteFile(path, content, 0600); err != nil {
		return false, errors.Trace(err)
	}
	a.config.Logger.Infof("authorized %d peer keys for %q", len(sorted), a.config.User)
	return true, errors.Trace(a.chown(ctx, a.sshDir()))
}
