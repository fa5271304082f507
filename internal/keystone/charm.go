// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package keystone implements the hooks of the keystone charm: the
// database and admin bootstrap, downstream service registration, hacluster
// formation and peer synchronisation.
package keystone

import (
	"context"
	"fmt"
	"sort"

	"github.com/juju/errors"

	"github.com/juju/keystone-agent/charm"
	"github.com/juju/keystone-agent/core/leadership"
	"github.com/juju/keystone-agent/core/relation"
	"github.com/juju/keystone-agent/domain/credential"
	"github.com/juju/keystone-agent/domain/identity/service"
	"github.com/juju/keystone-agent/hook"
	"github.com/juju/keystone-agent/internal/contexts"
	"github.com/juju/keystone-agent/internal/dispatch"
	"github.com/juju/keystone-agent/internal/render"
	"github.com/juju/keystone-agent/internal/restart"
)

// ClusterResource is the hacluster resource whose holder leads.
const ClusterResource = "res_ks_vip"

// Relation names.
const (
	sharedDBRelation        = "shared-db"
	identityServiceRelation = "identity-service"
	clusterRelation         = "cluster"
)

// Logger represents the logging methods called.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
}

// ContextSource resolves the named contexts.
type ContextSource interface {
	Contexts(ctx context.Context, cfg charm.Config) (map[string]contexts.Context, error)
	Context(ctx context.Context, cfg charm.Config, name string) (contexts.Context, error)
}

// Catalog is the identity catalog keystone serves.
type Catalog interface {
	Ready(ctx context.Context) error
	EnsureInitialAdmin(ctx context.Context, args service.AdminArgs) (bool, error)
	RegisterService(ctx context.Context, args service.RegisterArgs) (service.Registration, error)
}

// CatalogFactory returns a Catalog talking to the keystone admin API at
// url with the admin token.
type CatalogFactory func(url, token string) (Catalog, error)

// CredentialStore caches the generated secrets on the local unit.
type CredentialStore interface {
	Load(ctx context.Context) (credential.Credentials, error)
	Save(ctx context.Context, creds credential.Credentials) (bool, error)
}

// Packages installs and upgrades packages.
type Packages interface {
	ConfigureSource(ctx context.Context, origin string) error
	Update(ctx context.Context) error
	Install(ctx context.Context, pkgs ...string) error
	UpgradeAvailable(ctx context.Context, pkg string) (bool, error)
	Upgrade(ctx context.Context, pkgs ...string) error
}

// Account is the local peer synchronisation account.
type Account interface {
	Ensure(ctx context.Context) error
	PublicKey(ctx context.Context) (string, error)
	AuthorizePeers(ctx context.Context, values []string) (bool, error)
}

// Commander runs external commands.
type Commander interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// Registrar accepts hook handlers.
type Registrar interface {
	Register(handler dispatch.Handler, names ...string)
}

// Config holds the dependencies of a Charm.
type Config struct {
	Store      relation.Store
	Contexts   ContextSource
	Leadership leadership.Oracle
	NewCatalog CatalogFactory
	Services   restart.ServiceManager
	Packages   Packages
	Account    Account
	Commander  Commander

	// PreInstall runs the payload pre-install hooks.
	PreInstall func(ctx context.Context) error

	// Credentials holds the secrets this unit generated or adopted.
	Credentials CredentialStore

	Paths render.Paths

	// StateDir holds keystone's local state.
	StateDir string

	// NewPassword generates admin tokens and passwords.
	NewPassword func() (string, error)

	Logger Logger
}

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	if config.Store == nil {
		return errors.NotValidf("nil Store")
	}
	if config.Contexts == nil {
		return errors.NotValidf("nil Contexts")
	}
	if config.Leadership == nil {
		return errors.NotValidf("nil Leadership")
	}
	if config.NewCatalog == nil {
		return errors.NotValidf("nil NewCatalog")
	}
	if config.Credentials == nil {
		return errors.NotValidf("nil Credentials")
	}
	if config.Services == nil {
		return errors.NotValidf("nil Services")
	}
	if config.Packages == nil {
		return errors.NotValidf("nil Packages")
	}
	if config.Account == nil {
		return errors.NotValidf("nil Account")
	}
	if config.Commander == nil {
		return errors.NotValidf("nil Commander")
	}
	if config.PreInstall == nil {
		return errors.NotValidf("nil PreInstall")
	}
	if config.StateDir == "" {
		return errors.NotValidf("empty StateDir")
	}
	if config.NewPassword == nil {
		return errors.NotValidf("nil NewPassword")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Charm holds the keystone hook handlers.
type Charm struct {
	config Config

	// upgraded is set by a hook body that upgraded the packages, so that
	// every service restarts afterwards.
	upgraded bool
}

// NewCharm returns a Charm for config.
func NewCharm(config Config) (*Charm, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Charm{config: config}, nil
}

// RestartMap returns the services that read each managed file.
func RestartMap(paths render.Paths) restart.Map {
	return restart.Map{
		{Path: paths.KeystoneConf, Services: []string{"keystone"}},
		{Path: paths.LoggingConf, Services: []string{"keystone"}},
		{Path: paths.HAProxyConf, Services: []string{"haproxy"}},
		{Path: paths.HAProxyDefault, Services: []string{"haproxy"}},
		{Path: paths.ApacheSite, Services: []string{"apache2"}},
		{Path: paths.SSLCert(), Services: []string{"apache2"}},
		{Path: paths.SSLKey(), Services: []string{"apache2"}},
	}
}

// Register registers every keystone hook with r.
func (c *Charm) Register(r Registrar) {
	onChange := restart.OnChange(RestartMap(c.config.Paths), c.config.Services, c.config.Logger)
	upgraded := func() bool { return c.upgraded }

	r.Register(c.install, "install")
	r.Register(onChange.StopStart().ForceWhen(upgraded).Wrap(c.configChanged), "config-changed")
	r.Register(onChange.ForceWhen(upgraded).Wrap(c.upgradeCharm), "upgrade-charm")

	r.Register(c.sharedDBJoined, "shared-db-relation-joined")
	r.Register(onChange.Wrap(c.sharedDBChanged), "shared-db-relation-changed")

	r.Register(c.identityJoined, "identity-service-relation-joined")
	r.Register(onChange.Wrap(c.identityChanged), "identity-service-relation-changed")

	r.Register(c.clusterJoined, "cluster-relation-joined")
	r.Register(onChange.StopStart().Wrap(c.clusterChanged), "cluster-relation-changed", "cluster-relation-departed")

	r.Register(c.haJoined, "ha-relation-joined")
	r.Register(onChange.Wrap(c.haChanged), "ha-relation-changed")
}

type nameRecorder []string

func (n *nameRecorder) Register(_ dispatch.Handler, names ...string) {
	*n = append(*n, names...)
}

// HookNames returns the sorted names of every hook a Charm registers.
func HookNames() []string {
	var names nameRecorder
	(&Charm{}).Register(&names)
	sort.Strings(names)
	return names
}

// renderer returns a Renderer over the snapshot of the current hook.
func (c *Charm) renderer(hctx *hook.Context) (*render.Renderer, error) {
	r, err := render.NewRenderer(render.Config{
		Contexts: c.config.Contexts,
		Hook:     hctx,
		AdminToken: func(ctx context.Context) (string, error) {
			return c.adminToken(ctx, hctx.Config)
		},
		Paths:     c.config.Paths,
		Artifacts: render.KeystoneArtifacts(c.config.Paths),
		Logger:    c.config.Logger,
	})
	return r, errors.Trace(err)
}

func (c *Charm) renderAll(ctx context.Context, hctx *hook.Context) error {
	r, err := c.renderer(hctx)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = r.RenderAll(ctx)
	return errors.Trace(err)
}

func (c *Charm) isLeader(ctx context.Context) (bool, error) {
	leader, err := c.config.Leadership.IsEligibleLeader(ctx, ClusterResource)
	return leader, errors.Annotate(err, "checking leadership")
}

// catalog returns the Catalog of the local keystone once its admin API
// answers. Services whose configuration the hook already changed are
// restarted first, so that keystone serves the rendered token and ports.
func (c *Charm) catalog(ctx context.Context, hctx *hook.Context, all map[string]contexts.Context) (Catalog, error) {
	if err := restart.Flush(ctx); err != nil {
		return nil, errors.Trace(err)
	}
	token, err := c.adminToken(ctx, hctx.Config)
	if err != nil {
		return nil, errors.Trace(err)
	}
	port := render.Data{Config: hctx.Config, Contexts: all}.APIPort(hctx.Config.AdminPort)
	url := fmt.Sprintf("http://localhost:%d/v2.0", port)
	catalog, err := c.config.NewCatalog(url, token)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := catalog.Ready(ctx); err != nil {
		return nil, errors.Trace(err)
	}
	return catalog, nil
}
