// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package master implements the Modbus TCP master controller: connect with
// transparent reconnect, per-request timeouts, and the full read/write/
// diagnostic operation surface, composed from modbus's codec and
// transport/mbap's framing and transaction table.
package master

import (
	"log/slog"
	"time"
)

// Option configures a Controller at construction time.
type Option func(*controllerOptions)

type controllerOptions struct {
	unitID           byte
	requestTimeout   time.Duration
	autoReconnect    bool
	reconnectBackoff time.Duration
	maxReconnectTime time.Duration
	logger           *slog.Logger
}

func defaultOptions() *controllerOptions {
	return &controllerOptions{
		unitID:           0,
		requestTimeout:   1 * time.Second,
		autoReconnect:    true,
		reconnectBackoff: 500 * time.Millisecond,
		maxReconnectTime: 30 * time.Second,
		logger:           slog.Default(),
	}
}

// WithUnitID sets the MBAP unit id sent with every request.
func WithUnitID(id byte) Option {
	return func(o *controllerOptions) { o.unitID = id }
}

// WithRequestTimeout overrides the per-request timeout. The default is 1s,
// matching a transaction record's normal lifecycle.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *controllerOptions) { o.requestTimeout = d }
}

// WithAutoReconnect enables or disables transparent reconnection after an
// unexpected disconnect.
func WithAutoReconnect(enable bool) Option {
	return func(o *controllerOptions) { o.autoReconnect = enable }
}

// WithReconnectBackoff sets the initial delay between reconnect attempts.
func WithReconnectBackoff(d time.Duration) Option {
	return func(o *controllerOptions) { o.reconnectBackoff = d }
}

// WithMaxReconnectTime caps the exponential reconnect backoff.
func WithMaxReconnectTime(d time.Duration) Option {
	return func(o *controllerOptions) { o.maxReconnectTime = d }
}

// WithLogger overrides the default slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *controllerOptions) { o.logger = logger }
}
