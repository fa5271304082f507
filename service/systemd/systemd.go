// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package systemd controls the services keystone depends on through the
// systemd dbus API.
package systemd

import (
	"context"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/juju/errors"
)

// Logger represents the logging methods called.
type Logger interface {
	Debugf(string, ...interface{})
	Errorf(string, ...interface{})
}

// DBusAPI is the part of the systemd dbus connection used here.
type DBusAPI interface {
	Close()
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]dbus.UnitStatus, error)
	RestartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
}

// DBusAPIFactory connects to systemd.
type DBusAPIFactory = func(ctx context.Context) (DBusAPI, error)

// NewDBusAPI connects to the system bus.
func NewDBusAPI(ctx context.Context) (DBusAPI, error) {
	return dbus.NewWithContext(ctx)
}

var newChan = func() chan string {
	return make(chan string, 1)
}

// Manager restarts, stops and starts services. A fresh dbus connection is
// made for every operation.
type Manager struct {
	newDBus DBusAPIFactory
	logger  Logger
}

// NewManager returns a Manager connecting with newDBus.
func NewManager(newDBus DBusAPIFactory, logger Logger) *Manager {
	return &Manager{newDBus: newDBus, logger: logger}
}

// UnitName returns the systemd unit for a service name.
func UnitName(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

// Restart restarts the service, starting it if it was stopped.
func (m *Manager) Restart(ctx context.Context, name string) error {
	conn, err := m.newConn(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	defer conn.Close()

	statusCh := newChan()
	if _, err := conn.RestartUnitContext(ctx, UnitName(name), "fail", statusCh); err != nil {
		return m.errorf(err, name, "dbus restart request failed")
	}
	if err := m.wait(ctx, name, "restart", statusCh); err != nil {
		return errors.Trace(err)
	}
	m.logger.Debugf("service %q successfully restarted", name)
	return nil
}

// Start starts the service unless it is already running.
func (m *Manager) Start(ctx context.Context, name string) error {
	conn, err := m.newConn(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	defer conn.Close()

	running, err := m.running(ctx, conn, name)
	if err != nil {
		return errors.Trace(err)
	}
	if running {
		m.logger.Debugf("service %q already running", name)
		return nil
	}

	statusCh := newChan()
	if _, err := conn.StartUnitContext(ctx, UnitName(name), "fail", statusCh); err != nil {
		return m.errorf(err, name, "dbus start request failed")
	}
	if err := m.wait(ctx, name, "start", statusCh); err != nil {
		return errors.Trace(err)
	}
	m.logger.Debugf("service %q successfully started", name)
	return nil
}

// Stop stops the service if it is running.
func (m *Manager) Stop(ctx context.Context, name string) error {
	conn, err := m.newConn(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	defer conn.Close()

	running, err := m.running(ctx, conn, name)
	if err != nil {
		return errors.Trace(err)
	}
	if !running {
		m.logger.Debugf("service %q not running", name)
		return nil
	}

	statusCh := newChan()
	if _, err := conn.StopUnitContext(ctx, UnitName(name), "fail", statusCh); err != nil {
		return m.errorf(err, name, "dbus stop request failed")
	}
	if err := m.wait(ctx, name, "stop", statusCh); err != nil {
		return errors.Trace(err)
	}
	m.logger.Debugf("service %q successfully stopped", name)
	return nil
}

func (m *Manager) newConn(ctx context.Context, name string) (DBusAPI, error) {
	conn, err := m.newDBus(ctx)
	if err != nil {
		m.logger.Errorf("failed to connect to dbus for service %q: %v", name, err)
	}
	return conn, err
}

func (m *Manager) running(ctx context.Context, conn DBusAPI, name string) (bool, error) {
	units, err := conn.ListUnitsByNamesContext(ctx, []string{UnitName(name)})
	if err != nil {
		return false, m.errorf(err, name, "failed to query services from dbus")
	}
	for _, unit := range units {
		if unit.Name == UnitName(name) {
			return unit.LoadState == "loaded" && unit.ActiveState == "active", nil
		}
	}
	return false, nil
}

func (m *Manager) wait(ctx context.Context, name, op string, statusCh chan string) error {
	var status string
	select {
	case status = <-statusCh:
	case <-ctx.Done():
		return errors.Annotatef(ctx.Err(), "waiting to %s service %q", op, name)
	}
	if status != "done" {
		return m.errorf(nil, name, "failed to %s (API status %q)", op, status)
	}
	return nil
}

func (m *Manager) errorf(err error, name, msg string, args ...interface{}) error {
	msg += " for service %q"
	args = append(args, name)
	if err == nil {
		err = errors.Errorf(msg, args...)
	} else {
		err = errors.Annotatef(err, msg, args...)
	}
	m.logger.Errorf("%v", err)
	return err
}
