/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package command wraps single directory writes in a circuit breaker.
package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/sony/gobreaker"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	// DefaultGroup is the breaker group commands join unless WithGroup is given
	DefaultGroup = "ldap"

	consecutiveFailuresToTrip = 5
	openStateTimeout          = 10 * time.Second
)

// Adder performs an LDAP add. Both *ldap.Conn and the client wrapper of this
// module satisfy it.
type Adder interface {
	Add(*ldap.AddRequest) error
}

// Result is the outcome of a write the server answered.
type Result struct {
	ResultCode        uint16
	MatchedDN         string
	DiagnosticMessage string
}

// Success reports whether the server accepted the write.
func (r *Result) Success() bool {
	return r.ResultCode == ldap.LDAPResultSuccess
}

func (r *Result) String() string {
	return fmt.Sprintf("%s (%d)", ldap.LDAPResultCodeMap[r.ResultCode], r.ResultCode)
}

var (
	breakersMu sync.Mutex
	breakers   = map[string]*gobreaker.CircuitBreaker{}
)

func breakerFor(group string) *gobreaker.CircuitBreaker {
	breakersMu.Lock()
	defer breakersMu.Unlock()

	if cb, ok := breakers[group]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    group,
		Timeout: openStateTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailuresToTrip
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Log.WithName("command").Info("Circuit breaker state changed", "group", name, "from", from.String(), "to", to.String())
		},
	})
	breakers[group] = cb
	return cb
}

// isSuccessful counts answers of the server, including rejections, as
// healthy. Only client side failures such as a lost connection trip the
// breaker.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	_, ok := serverResult(err)
	return ok
}

func serverResult(err error) (*Result, bool) {
	var lerr *ldap.Error
	if !errors.As(err, &lerr) || lerr.ResultCode >= ldap.ErrorNetwork {
		return nil, false
	}
	res := &Result{ResultCode: lerr.ResultCode, MatchedDN: lerr.MatchedDN}
	if lerr.Err != nil {
		res.DiagnosticMessage = lerr.Err.Error()
	}
	return res, true
}

// Option configures an InsertCommand.
type Option func(*InsertCommand)

// WithGroup makes the command share the breaker of group.
func WithGroup(group string) Option {
	return func(c *InsertCommand) {
		c.group = group
	}
}

// InsertCommand adds one entry through a circuit breaker.
type InsertCommand struct {
	conn  Adder
	entry *ldap.Entry
	group string
}

// NewInsertCommand creates a command that adds entry over conn.
func NewInsertCommand(conn Adder, entry *ldap.Entry, opts ...Option) *InsertCommand {
	c := &InsertCommand{conn: conn, entry: entry, group: DefaultGroup}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute performs the add once. A rejection by the server is returned as a
// Result carrying its code. Transport failures and an open breaker are
// returned as errors.
func (c *InsertCommand) Execute(ctx context.Context) (*Result, error) {
	logger := log.FromContext(ctx).WithName("command").WithValues("group", c.group, "dn", c.entry.DN)

	_, err := breakerFor(c.group).Execute(func() (interface{}, error) {
		return nil, c.conn.Add(c.request())
	})
	if err == nil {
		logger.V(1).Info("Entry inserted")
		return &Result{ResultCode: ldap.LDAPResultSuccess}, nil
	}

	if res, ok := serverResult(err); ok {
		logger.Info("Insert rejected by server", "result", res.String())
		return res, nil
	}

	logger.Error(err, "Failed to insert entry")
	return nil, fmt.Errorf("failed to insert %q: %w", c.entry.DN, err)
}

func (c *InsertCommand) request() *ldap.AddRequest {
	req := ldap.NewAddRequest(c.entry.DN, nil)
	for _, attr := range c.entry.Attributes {
		req.Attribute(attr.Name, attr.Values)
	}
	return req
}
