// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package keystoneapi drives the keystone v2.0 admin API with the
// admin_token keystone.conf grants, so that the catalog the hooks write is
// the one keystone serves.
package keystoneapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	gooseerrors "github.com/go-goose/goose/v5/errors"
	goosehttp "github.com/go-goose/goose/v5/http"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
)

// Logger represents the logging methods called.
type Logger interface {
	Tracef(string, ...interface{})
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
	Errorf(string, ...interface{})
}

// Config holds the dependencies of a Client.
type Config struct {
	// URL is the admin API root, eg http://localhost:35357/v2.0.
	URL string

	// Token is keystone's admin_token.
	Token string

	// Clock, Attempts and Delay bound how long Ready waits for keystone
	// to answer.
	Clock    clock.Clock
	Attempts int
	Delay    time.Duration

	Logger Logger
}

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	if config.URL == "" {
		return errors.NotValidf("empty URL")
	}
	if config.Token == "" {
		return errors.NotValidf("empty Token")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Attempts <= 0 {
		return errors.NotValidf("%d Attempts", config.Attempts)
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Client talks to one keystone. Every Ensure method lists what exists
// before creating anything, so repeating a call writes nothing.
type Client struct {
	config Config
	http   *goosehttp.Client
	logger requestLogger
}

// NewClient returns a Client for config.
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	config.URL = strings.TrimSuffix(config.URL, "/")
	return &Client{
		config: config,
		http:   goosehttp.New(),
		logger: requestLogger{config.Logger},
	}, nil
}

// Ready waits until keystone answers on the admin API. A rejected token
// fails at once.
func (c *Client) Ready(ctx context.Context) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return c.request(http.MethodGet, "/tenants", nil, nil, http.StatusOK)
		},
		IsFatalError: gooseerrors.IsUnauthorised,
		NotifyFunc: func(err error, attempt int) {
			c.config.Logger.Debugf("keystone not ready, attempt %d: %v", attempt, err)
		},
		Attempts: c.config.Attempts,
		Delay:    c.config.Delay,
		Clock:    c.config.Clock,
		Stop:     ctx.Done(),
	})
	return errors.Annotatef(retry.LastError(err), "waiting for keystone at %s", c.config.URL)
}

// request sends body, when not nil, to the path under the API root and
// decodes the response into result. The error is returned untouched so
// that goose's error predicates still work on it.
func (c *Client) request(method, path string, body, result interface{}, expected ...int) error {
	return c.http.JsonRequest(method, c.config.URL+path, c.config.Token, &goosehttp.RequestData{
		ReqValue:       body,
		RespValue:      result,
		ExpectedStatus: expected,
	}, c.logger)
}

// requestLogger adapts Logger to what goose logs requests through.
// Request bodies carry passwords, so they only show up at TRACE.
type requestLogger struct {
	Logger
}

// Printf is part of goose's logging.CompatLogger.
func (l requestLogger) Printf(format string, args ...interface{}) {
	l.Logger.Tracef(format, args...)
}

// Debugf demotes goose's request logging to TRACE.
func (l requestLogger) Debugf(format string, args ...interface{}) {
	l.Logger.Tracef(format, args...)
}
