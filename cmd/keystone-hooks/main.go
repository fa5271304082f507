// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// keystone-hooks is the single entry point for every keystone charm hook.
// The charm's hooks directory holds symlinks to it, one per hook name.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"
	"github.com/juju/utils/v4"

	"github.com/juju/keystone-agent/charm"
	coreleadership "github.com/juju/keystone-agent/core/leadership"
	"github.com/juju/keystone-agent/core/relation"
	"github.com/juju/keystone-agent/database"
	credentialstate "github.com/juju/keystone-agent/domain/credential/state"
	"github.com/juju/keystone-agent/domain/identity/service"
	"github.com/juju/keystone-agent/hook"
	"github.com/juju/keystone-agent/internal/accounts"
	"github.com/juju/keystone-agent/internal/contexts"
	"github.com/juju/keystone-agent/internal/dispatch"
	"github.com/juju/keystone-agent/internal/exec"
	"github.com/juju/keystone-agent/internal/hookenv"
	"github.com/juju/keystone-agent/internal/keystone"
	"github.com/juju/keystone-agent/internal/keystoneapi"
	"github.com/juju/keystone-agent/internal/leadership"
	"github.com/juju/keystone-agent/internal/packages"
	"github.com/juju/keystone-agent/internal/render"
	"github.com/juju/keystone-agent/service/systemd"
)

const (
	binaryName = "keystone-hooks"

	// stateDir holds keystone's sqlite database and the credential cache.
	stateDir = "/var/lib/keystone"

	credentialsDB = "charm-credentials.db"

	// Keystone may take a while to answer after a restart.
	catalogAttempts = 10
	catalogDelay    = 3 * time.Second

	peerHomeDir = "/home/" + accounts.DefaultUser
)

var logger = loggo.GetLogger("keystone.cmd")

func main() {
	os.Exit(Main(os.Args, os.Stdout, os.Stderr, os.Getenv))
}

type options struct {
	hook       string
	charmDir   string
	leadership string
	logConfig  string
	list       bool
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	flags := gnuflag.NewFlagSet(binaryName, gnuflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&opts.hook, "hook", "", "name of the hook to run")
	flags.StringVar(&opts.charmDir, "charm-dir", "", "charm directory (defaults to $CHARM_DIR)")
	flags.StringVar(&opts.leadership, "leadership", "peers", "leadership oracle: peers, juju or single")
	flags.StringVar(&opts.logConfig, "log-config", "", "loggo configuration, eg <root>=DEBUG")
	flags.BoolVar(&opts.list, "list", false, "print the names of the handled hooks")
	if err := flags.Parse(true, args[1:]); err != nil {
		return options{}, errors.Trace(err)
	}
	if extra := flags.Args(); len(extra) > 0 {
		return options{}, errors.Errorf("unrecognized args: %q", extra)
	}
	switch opts.leadership {
	case "peers", "juju", "single":
	default:
		return options{}, errors.NotValidf("leadership %q", opts.leadership)
	}
	return opts, nil
}

// hookName returns the hook to run. An empty result leaves the choice to
// JUJU_HOOK_NAME.
func hookName(opts options, argv0 string) string {
	if opts.hook != "" {
		return opts.hook
	}
	if base := filepath.Base(argv0); base != binaryName && base != "." {
		return base
	}
	return ""
}

// Main runs the hook named by args and the environment, returning the
// process exit status.
func Main(args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return 2
	}
	if opts.list {
		for _, name := range keystone.HookNames() {
			fmt.Fprintln(stdout, name)
		}
		return 0
	}
	if opts.logConfig != "" {
		if err := loggo.ConfigureLoggers(opts.logConfig); err != nil {
			fmt.Fprintf(stderr, "ERROR %v\n", err)
			return 2
		}
	}
	if opts.charmDir == "" {
		opts.charmDir = getenv(hook.EnvCharmDir)
	}

	cmd := exec.NewCommander(loggo.GetLogger("keystone.exec"))
	tools := hookenv.NewTools(cmd, "")
	if getenv(hook.EnvContextId) != "" {
		fallback := loggo.NewSimpleWriter(stderr, loggo.DefaultFormatter)
		if _, err := loggo.ReplaceDefaultWriter(newLogWriter(exec.DefaultRunner, fallback)); err != nil {
			fmt.Fprintf(stderr, "ERROR %v\n", err)
		}
	}

	if err := run(context.Background(), opts, hookName(opts, args[0]), cmd, tools, getenv); err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, opts options, name string, cmd *exec.Commander, tools *hookenv.Tools, getenv func(string) string) error {
	info, err := hook.FromEnvironment(name, getenv)
	if err != nil {
		return errors.Trace(err)
	}
	unitName := getenv(hook.EnvUnitName)

	raw, err := tools.ConfigGet(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	cfg, err := charm.ParseConfig(raw)
	if err != nil {
		return errors.Trace(err)
	}
	address, err := tools.UnitGet(ctx, "private-address")
	if err != nil {
		return errors.Trace(err)
	}

	oracle, err := newOracle(opts.leadership, tools, cmd, unitName)
	if err != nil {
		return errors.Trace(err)
	}

	// The cache lives in keystone's state directory, which only exists
	// once the keystone package is installed.
	opener := database.NewOpener(filepath.Join(stateDir, credentialsDB))
	defer func() { _ = opener.Close() }()

	account, err := accounts.NewAccount(accounts.Config{
		User:      accounts.DefaultUser,
		Group:     accounts.DefaultGroup,
		HomeDir:   peerHomeDir,
		Commander: cmd,
		Logger:    loggo.GetLogger("keystone.accounts"),
	})
	if err != nil {
		return errors.Trace(err)
	}

	ks, err := keystone.NewCharm(keystone.Config{
		Store:      tools,
		Contexts:   contexts.NewAggregator(tools, loggo.GetLogger("keystone.contexts"), contexts.KeystoneSchemas()...),
		Leadership: oracle,
		NewCatalog: newCatalog,
		Services:   systemd.NewManager(systemd.NewDBusAPI, loggo.GetLogger("keystone.systemd")),
		Packages:   packages.NewApt(cmd, loggo.GetLogger("keystone.packages")),
		Account:    account,
		Commander:  cmd,
		PreInstall: func(ctx context.Context) error {
			return tools.PreInstall(ctx, opts.charmDir)
		},
		Credentials: credentialstate.NewState(opener.DB, loggo.GetLogger("keystone.credential.state")),
		Paths:       render.DefaultPaths(opts.charmDir),
		StateDir:    stateDir,
		NewPassword: utils.RandomPassword,
		Logger:      loggo.GetLogger("keystone.charm"),
	})
	if err != nil {
		return errors.Trace(err)
	}
	registry := dispatch.NewRegistry(clock.WallClock, loggo.GetLogger("keystone.dispatch"))
	ks.Register(registry)

	return registry.Dispatch(ctx, &hook.Context{
		Info:           info,
		Config:         cfg,
		UnitName:       unitName,
		PrivateAddress: address,
	})
}

// newLogWriter returns a writer sending records to juju-log through
// runner. Its commander must not log: it runs while loggo holds the
// lock of its writers.
func newLogWriter(runner exec.CommandRunner, fallback loggo.Writer) loggo.Writer {
	quiet := &exec.Commander{Runner: runner}
	return hookenv.NewLogWriter(hookenv.NewTools(quiet, ""), fallback)
}

// newCatalog returns the identity catalog served by the keystone admin
// API at url.
func newCatalog(url, token string) (keystone.Catalog, error) {
	client, err := keystoneapi.NewClient(keystoneapi.Config{
		URL:      url,
		Token:    token,
		Clock:    clock.WallClock,
		Attempts: catalogAttempts,
		Delay:    catalogDelay,
		Logger:   loggo.GetLogger("keystone.api"),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return service.NewService(client, loggo.GetLogger("keystone.identity")), nil
}

type leaderStore interface {
	relation.Store
	leadership.LeaderChecker
}

func newOracle(kind string, store leaderStore, cmd leadership.Commander, unitName string) (coreleadership.Oracle, error) {
	switch kind {
	case "juju":
		return leadership.Juju{Checker: store}, nil
	case "single":
		return coreleadership.Single{}, nil
	}
	oracle, err := leadership.NewCluster(leadership.ClusterConfig{
		Store:     store,
		Commander: cmd,
		UnitName:  unitName,
		Hostname:  os.Hostname,
		Logger:    loggo.GetLogger("keystone.leadership"),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return oracle, nil
}
