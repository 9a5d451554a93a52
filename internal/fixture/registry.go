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
	"fmt"
	"io"
	"sync"

	v1 "github.com/guided-traffic/ldap-test/api/v1"
)

// Description identifies a test within its suite.
type Description struct {
	Suite string
	Name  string
}

func (d Description) String() string {
	if d.Name == "" {
		return d.Suite
	}
	return d.Suite + "/" + d.Name
}

// Registry maps suites and tests to the fixture metadata declared for them.
type Registry struct {
	mu     sync.RWMutex
	suites map[string]*v1.InMemoryLDAPServerSpec
	tests  map[Description]*v1.InMemoryLDAPServerSpec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		suites: make(map[string]*v1.InMemoryLDAPServerSpec),
		tests:  make(map[Description]*v1.InMemoryLDAPServerSpec),
	}
}

// RegisterSuite declares metadata for every test of suite.
func (r *Registry) RegisterSuite(suite string, spec v1.InMemoryLDAPServerSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suites[suite] = spec.DeepCopy()
}

// RegisterTest declares metadata for a single test.
func (r *Registry) RegisterTest(d Description, spec v1.InMemoryLDAPServerSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tests[d] = spec.DeepCopy()
}

// Load registers every InMemoryLDAPServer manifest read from reader. A
// manifest with the test annotation is registered for that test, any other
// for its whole suite.
func (r *Registry) Load(reader io.Reader) error {
	servers, err := v1.DecodeManifests(reader)
	if err != nil {
		return err
	}
	for i, server := range servers {
		if server.Suite() == "" {
			return fmt.Errorf("manifest %d has no metadata.name", i+1)
		}
		if test := server.Test(); test != "" {
			r.RegisterTest(Description{Suite: server.Suite(), Name: test}, server.Spec)
			continue
		}
		r.RegisterSuite(server.Suite(), server.Spec)
	}
	return nil
}

// Unit returns the executable test unit for d.
func (r *Registry) Unit(d Description) Unit {
	return &registryUnit{registry: r, description: d, test: true}
}

// SuiteUnit returns the unit for a whole suite, for fixtures shared by every
// test in it.
func (r *Registry) SuiteUnit(suite string) Unit {
	return &registryUnit{registry: r, description: Description{Suite: suite}}
}

func (r *Registry) suite(name string) *v1.InMemoryLDAPServerSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.suites[name].DeepCopy()
}

func (r *Registry) test(d Description) *v1.InMemoryLDAPServerSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tests[d].DeepCopy()
}

type registryUnit struct {
	registry    *Registry
	description Description
	test        bool
}

func (u *registryUnit) IsTest() bool {
	return u.test
}

func (u *registryUnit) Metadata() *v1.InMemoryLDAPServerSpec {
	if !u.test {
		return u.registry.suite(u.description.Suite)
	}
	return u.registry.test(u.description)
}

func (u *registryUnit) SuiteMetadata() *v1.InMemoryLDAPServerSpec {
	return u.registry.suite(u.description.Suite)
}

func (u *registryUnit) String() string {
	return u.description.String()
}
