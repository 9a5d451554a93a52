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

package fixture

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	v1 "github.com/guided-traffic/ldap-test/api/v1"
	"github.com/guided-traffic/ldap-test/internal/directory"
)

// State is the lifecycle state of a Manager.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateShuttingDown:
		return "ShuttingDown"
	}
	return "Unknown(" + strconv.Itoa(int(s)) + ")"
}

// Option configures a Manager.
type Option func(*Manager)

// WithPreload inserts the entries of p, in order, every time the fixture
// starts. The manager keeps its own copy.
func WithPreload(p *Preload) Option {
	return func(m *Manager) {
		if p != nil {
			m.preload = p.Clone()
		}
	}
}

// WithLogger sets the logger used instead of the one carried by the context.
func WithLogger(logger logr.Logger) Option {
	return func(m *Manager) {
		m.logger = &logger
	}
}

// Manager owns at most one running directory server at a time. It may be
// reused sequentially but must not be driven from several goroutines at once.
type Manager struct {
	preload *Preload
	logger  *logr.Logger

	mu     sync.Mutex
	state  State
	spec   *v1.InMemoryLDAPServerSpec
	server *directory.Server
}

// NewManager creates an idle manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{preload: NewPreload()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) log(ctx context.Context) logr.Logger {
	if m.logger != nil {
		return m.logger.WithName("fixture")
	}
	return log.FromContext(ctx).WithName("fixture")
}

// Apply starts a fixture for unit, runs body against it and shuts the fixture
// down again on every exit path, including a panic in body. The error of body
// is returned unchanged.
func (m *Manager) Apply(ctx context.Context, unit Unit, body func(ctx context.Context) error) error {
	if err := m.Start(ctx, unit); err != nil {
		if !errors.Is(err, ErrIllegalState) {
			m.Stop(ctx)
		}
		return err
	}
	defer m.Stop(ctx)

	return body(ctx)
}

// Start resolves the metadata of unit, starts a directory server and preloads
// it. Invalid or missing metadata yields a ConfigurationError before anything
// is allocated. Any later failure yields a StartError; the server then stays
// attached so that Stop releases it.
func (m *Manager) Start(ctx context.Context, unit Unit) error {
	logger := m.log(ctx)

	m.mu.Lock()
	if m.state != StateIdle || m.server != nil {
		state := m.state
		m.mu.Unlock()
		logger.Info("Refusing to start fixture", "state", state.String())
		return ErrIllegalState
	}
	m.state = StateStarting
	m.mu.Unlock()

	// Resolve metadata
	spec, err := Resolve(unit)
	if err != nil {
		m.setState(StateIdle)
		return err
	}

	// Build the directory configuration
	cfg, err := newDirectoryConfig(spec, logger)
	if err != nil {
		m.setState(StateIdle)
		return &StartError{Stage: StageConfigure, Err: err}
	}
	server, err := directory.NewServer(cfg)
	if err != nil {
		m.setState(StateIdle)
		return &StartError{Stage: StageConfigure, Err: err}
	}

	m.mu.Lock()
	m.spec = spec
	m.server = server
	m.mu.Unlock()

	// Start listening
	if err := server.StartListening(); err != nil {
		logger.Error(err, "Failed to start fixture listener", "listener", spec.Name, "port", spec.ListenPort())
		return &StartError{Stage: StageListen, Err: err}
	}

	// Preload fixture data
	for _, entry := range m.preload.Entries() {
		if err := server.Add(entry.DN, entry.Attributes...); err != nil {
			logger.Error(err, "Failed to preload entry", "dn", entry.DN)
			return &StartError{Stage: StagePreload, DN: entry.DN, Err: err}
		}
	}

	m.setState(StateRunning)
	logger.Info("Fixture started", "listener", spec.Name, "address", m.Address(), "preloaded", m.preload.Len())
	return nil
}

func newDirectoryConfig(spec *v1.InMemoryLDAPServerSpec, logger logr.Logger) (*directory.Config, error) {
	cfg, err := directory.NewConfig(spec.BaseDNs...)
	if err != nil {
		return nil, err
	}
	if err := cfg.SetListenerConfigs(directory.ListenerConfig{
		Name:    spec.Name,
		Address: spec.Address,
		Port:    int(spec.ListenPort()),
	}); err != nil {
		return nil, err
	}
	for _, criteria := range spec.BindCriteria {
		if err := cfg.AddAdditionalBindCredentials(criteria.BindableDN, criteria.Password); err != nil {
			return nil, err
		}
	}
	cfg.DisableSchemaValidation()
	cfg.SetLogger(logger)
	return cfg, nil
}

// Add inserts an entry into the running fixture. Rejections by the directory
// are returned unchanged as *ldap.Error.
func (m *Manager) Add(dn string, attrs ...ldap.Attribute) error {
	m.mu.Lock()
	state, server := m.state, m.server
	m.mu.Unlock()

	if state != StateRunning || server == nil {
		return ErrIllegalState
	}
	return server.Add(dn, attrs...)
}

// Stop shuts the fixture down and releases its port. It is a no-op when no
// server is attached. Shutdown failures are logged and swallowed.
func (m *Manager) Stop(ctx context.Context) {
	logger := m.log(ctx)

	m.mu.Lock()
	server := m.server
	if server == nil {
		m.mu.Unlock()
		return
	}
	m.state = StateShuttingDown
	m.mu.Unlock()

	if err := server.ShutDown(true); err != nil {
		logger.Error(err, "Failed to shut down fixture")
	}

	m.mu.Lock()
	m.server = nil
	m.state = StateIdle
	m.mu.Unlock()
	logger.Info("Fixture stopped")
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Server returns the attached directory server, or nil.
func (m *Manager) Server() *directory.Server {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.server
}

// Spec returns a copy of the metadata the fixture was last started with.
func (m *Manager) Spec() *v1.InMemoryLDAPServerSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spec.DeepCopy()
}

// Port returns the port the fixture listens on, or 0 when it is not listening.
func (m *Manager) Port() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server == nil || m.spec == nil {
		return 0
	}
	port := m.server.ListenPort(m.spec.Name)
	if port < 0 {
		return 0
	}
	return port
}

// Address returns host:port of the fixture listener, or an empty string when
// it is not listening.
func (m *Manager) Address() string {
	port := m.Port()
	if port == 0 {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return net.JoinHostPort(m.spec.Address, strconv.Itoa(port))
}

// ConnectionSpec returns the connection settings a client needs to bind to
// the fixture with its first bind criteria.
func (m *Manager) ConnectionSpec() *v1.ConnectionSpec {
	port := m.Port()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.spec == nil {
		return nil
	}

	conn := &v1.ConnectionSpec{
		Host:              m.spec.Address,
		Port:              int32(port),
		BaseDN:            m.spec.BaseDNs[0],
		ConnectionTimeout: 30,
	}
	if len(m.spec.BindCriteria) > 0 {
		conn.BindDN = m.spec.BindCriteria[0].BindableDN
	}
	return conn
}

// BindPassword returns the password of the first bind criteria.
func (m *Manager) BindPassword() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.spec == nil || len(m.spec.BindCriteria) == 0 {
		return ""
	}
	return m.spec.BindCriteria[0].Password
}
