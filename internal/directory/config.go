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

package directory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-logr/logr"
)

// ErrNoBaseDN is returned by NewConfig when no naming context is given.
var ErrNoBaseDN = errors.New("directory: at least one base DN is required")

// ListenerConfig describes one network endpoint of the server.
type ListenerConfig struct {
	// Name identifies the listener, e.g. in ListenPort
	Name string
	// Address is the host or IP the listener binds to
	Address string
	// Port is the TCP port, 0 picks a free port
	Port int
}

// credential is a DN and password registered with AddAdditionalBindCredentials
type credential struct {
	dn       string
	password string
}

// Config holds everything needed to build a Server.
type Config struct {
	baseDNs     []*ldap.DN
	baseDNNames []string
	credentials map[string]credential
	listeners   []ListenerConfig
	schema      *Schema
	logger      logr.Logger
}

// NewConfig creates a configuration serving the given naming contexts. Schema
// validation is enabled with DefaultSchema and a single listener on a free
// localhost port is configured until SetListenerConfigs is called.
func NewConfig(baseDNs ...string) (*Config, error) {
	if len(baseDNs) == 0 {
		return nil, ErrNoBaseDN
	}

	cfg := &Config{
		credentials: make(map[string]credential),
		listeners:   []ListenerConfig{{Name: "default", Address: "localhost"}},
		schema:      DefaultSchema(),
		logger:      logr.Discard(),
	}

	for _, baseDN := range baseDNs {
		parsed, err := parseDN(baseDN)
		if err != nil {
			return nil, fmt.Errorf("invalid base DN %q: %w", baseDN, err)
		}
		for _, existing := range cfg.baseDNs {
			if existing.EqualFold(parsed) {
				return nil, fmt.Errorf("duplicate base DN %q", baseDN)
			}
		}
		cfg.baseDNs = append(cfg.baseDNs, parsed)
		cfg.baseDNNames = append(cfg.baseDNNames, baseDN)
	}

	return cfg, nil
}

// BaseDNs returns the naming contexts in configuration order.
func (c *Config) BaseDNs() []string {
	return append([]string(nil), c.baseDNNames...)
}

// AddAdditionalBindCredentials allows dn to bind with password without a
// matching entry in the directory.
func (c *Config) AddAdditionalBindCredentials(dn, password string) error {
	parsed, err := parseDN(dn)
	if err != nil {
		return fmt.Errorf("invalid bind DN %q: %w", dn, err)
	}
	if password == "" {
		return fmt.Errorf("password for bind DN %q cannot be empty", dn)
	}
	c.credentials[normalize(parsed)] = credential{dn: dn, password: password}
	return nil
}

// SetListenerConfigs replaces the configured listeners.
func (c *Config) SetListenerConfigs(listeners ...ListenerConfig) error {
	if len(listeners) == 0 {
		return errors.New("at least one listener is required")
	}
	names := make(map[string]bool, len(listeners))
	for _, l := range listeners {
		if l.Name == "" {
			return errors.New("listener name cannot be empty")
		}
		if names[strings.ToLower(l.Name)] {
			return fmt.Errorf("duplicate listener name %q", l.Name)
		}
		if l.Port < 0 || l.Port > 65535 {
			return fmt.Errorf("listener %q: port %d out of range", l.Name, l.Port)
		}
		names[strings.ToLower(l.Name)] = true
	}
	c.listeners = append([]ListenerConfig(nil), listeners...)
	return nil
}

// Listeners returns the configured listeners.
func (c *Config) Listeners() []ListenerConfig {
	return append([]ListenerConfig(nil), c.listeners...)
}

// SetSchema sets the schema entries are checked against. A nil schema turns
// validation off.
func (c *Config) SetSchema(schema *Schema) {
	c.schema = schema
}

// DisableSchemaValidation accepts any attributes and object classes.
func (c *Config) DisableSchemaValidation() {
	c.SetSchema(nil)
}

// SchemaValidation reports whether entries are checked against a schema.
func (c *Config) SchemaValidation() bool {
	return c.schema != nil
}

// SetLogger sets the logger used by the server and its connections.
func (c *Config) SetLogger(logger logr.Logger) {
	c.logger = logger
}
