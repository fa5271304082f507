// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package packages installs and upgrades the keystone packages with apt.
package packages

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"
)

const (
	// CloudArchiveURL is the ubuntu cloud archive mirror used for
	// cloud: origins.
	CloudArchiveURL = "http://ubuntu-cloud.archive.canonical.com/ubuntu"

	// CloudArchiveKeyring authenticates the cloud archive.
	CloudArchiveKeyring = "ubuntu-cloud-keyring"

	// DefaultSourcesDir holds the additional apt source lists.
	DefaultSourcesDir = "/etc/apt/sources.list.d"
)

var (
	// --force-confold never overwrites config files; --assume-yes never
	// prompts.
	aptGet = []string{
		"apt-get",
		"--option=Dpkg::Options::=--force-confold",
		"--assume-yes",
		"--quiet",
	}

	// Upgrades take the packaged config files; the charm rewrites its own
	// afterwards.
	aptGetUpgrade = []string{
		"apt-get",
		"--option=Dpkg::Options::=--force-confnew",
		"--option=Dpkg::Options::=--force-confdef",
		"--assume-yes",
		"--quiet",
	}
)

// Commander runs package management commands.
type Commander interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
	Check(ctx context.Context, args ...string) (bool, error)
}

// Logger represents the logging methods called.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
}

// Apt manages packages on apt based systems.
type Apt struct {
	cmd        Commander
	logger     Logger
	sourcesDir string
}

// NewApt returns an Apt running its commands through cmd.
func NewApt(cmd Commander, logger Logger) *Apt {
	return &Apt{
		cmd:        cmd,
		logger:     logger,
		sourcesDir: DefaultSourcesDir,
	}
}

// WithSourcesDir returns a copy of a writing source lists under dir.
func (a *Apt) WithSourcesDir(dir string) *Apt {
	c := *a
	c.sourcesDir = dir
	return &c
}

// ConfigureSource adds the installation source named by origin. The empty
// origin and "distro" use the distribution archive and change nothing.
func (a *Apt) ConfigureSource(ctx context.Context, origin string) error {
	origin = strings.TrimSpace(origin)
	switch {
	case origin == "" || origin == "distro":
		return nil
	case strings.HasPrefix(origin, "ppa:"),
		strings.HasPrefix(origin, "deb "),
		strings.HasPrefix(origin, "http:"):
		a.logger.Infof("adding installation source %q", origin)
		_, err := a.cmd.Run(ctx, "add-apt-repository", "--yes", origin)
		return errors.Trace(err)
	case strings.HasPrefix(origin, "cloud:"):
		return errors.Trace(a.configureCloudArchive(ctx, origin))
	}
	return errors.NotValidf("installation source %q", origin)
}

// configureCloudArchive handles cloud:<series>-<release>[/<pocket>].
func (a *Apt) configureCloudArchive(ctx context.Context, origin string) error {
	pocket, err := CloudArchivePocket(origin)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err := a.cmd.Run(ctx, append(aptGet, "install", CloudArchiveKeyring)...); err != nil {
		return errors.Annotate(err, "installing cloud archive keyring")
	}
	line := fmt.Sprintf("deb %s %s main\n", CloudArchiveURL, pocket)
	path := filepath.Join(a.sourcesDir, "cloud-archive.list")
	a.logger.Infof("writing %s for %q", path, origin)
	return errors.Trace(utils.AtomicWriteFile(path, []byte(line), 0644))
}

// CloudArchivePocket returns the archive pocket for a cloud: origin, for
// example cloud:precise-folsom/proposed maps to precise-proposed/folsom.
func CloudArchivePocket(origin string) (string, error) {
	archive := strings.TrimPrefix(origin, "cloud:")
	pocket := "updates"
	if i := strings.Index(archive, "/"); i >= 0 {
		archive, pocket = archive[:i], archive[i+1:]
	}
	parts := strings.SplitN(archive, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", errors.NotValidf("cloud archive origin %q", origin)
	}
	switch pocket {
	case "updates", "staging", "proposed":
	default:
		return "", errors.NotValidf("cloud archive pocket %q", pocket)
	}
	return fmt.Sprintf("%s-%s/%s", parts[0], pocket, parts[1]), nil
}

// Update refreshes the package index.
func (a *Apt) Update(ctx context.Context) error {
	_, err := a.cmd.Run(ctx, append(aptGet, "update")...)
	return errors.Annotate(err, "updating package index")
}

// Install installs pkgs. Installing nothing is a no-op.
func (a *Apt) Install(ctx context.Context, pkgs ...string) error {
	if len(pkgs) == 0 {
		return nil
	}
	a.logger.Infof("installing %s", strings.Join(pkgs, " "))
	args := append(append([]string(nil), aptGet...), "install")
	_, err := a.cmd.Run(ctx, append(args, pkgs...)...)
	return errors.Annotate(err, "installing packages")
}

// InstalledVersion returns the installed version of pkg, or the empty
// string if it is not installed.
func (a *Apt) InstalledVersion(ctx context.Context, pkg string) (string, error) {
	installed, err := a.cmd.Check(ctx, "dpkg-query", "-s", pkg)
	if err != nil || !installed {
		return "", errors.Trace(err)
	}
	out, err := a.cmd.Run(ctx, "dpkg-query", "-W", "-f=${Version}", pkg)
	if err != nil {
		return "", errors.Trace(err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CandidateVersion returns the version apt would install for pkg, or the
// empty string when there is none.
func (a *Apt) CandidateVersion(ctx context.Context, pkg string) (string, error) {
	out, err := a.cmd.Run(ctx, "apt-cache", "policy", pkg)
	if err != nil {
		return "", errors.Trace(err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Candidate:") {
			continue
		}
		candidate := strings.TrimSpace(strings.TrimPrefix(line, "Candidate:"))
		if candidate == "(none)" {
			return "", nil
		}
		return candidate, nil
	}
	return "", errors.Trace(scanner.Err())
}

// UpgradeAvailable reports whether the configured sources carry a newer
// version of an installed pkg.
func (a *Apt) UpgradeAvailable(ctx context.Context, pkg string) (bool, error) {
	installed, err := a.InstalledVersion(ctx, pkg)
	if err != nil || installed == "" {
		return false, errors.Trace(err)
	}
	candidate, err := a.CandidateVersion(ctx, pkg)
	if err != nil || candidate == "" {
		return false, errors.Trace(err)
	}
	newer, err := a.cmd.Check(ctx, "dpkg", "--compare-versions", candidate, "gt", installed)
	if err != nil {
		return false, errors.Trace(err)
	}
	a.logger.Debugf("%s installed %s candidate %s newer %v", pkg, installed, candidate, newer)
	return newer, nil
}

// Upgrade dist-upgrades from the configured sources and reinstalls pkgs.
// Configure the source and update the index first.
func (a *Apt) Upgrade(ctx context.Context, pkgs ...string) error {
	a.logger.Infof("upgrading packages")
	if _, err := a.cmd.Run(ctx, append(aptGetUpgrade, "dist-upgrade")...); err != nil {
		return errors.Annotate(err, "upgrading packages")
	}
	if len(pkgs) == 0 {
		return nil
	}
	args := append(append([]string(nil), aptGetUpgrade...), "install")
	_, err := a.cmd.Run(ctx, append(args, pkgs...)...)
	return errors.Annotate(err, "installing packages")
}
