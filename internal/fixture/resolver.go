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

	v1 "github.com/guided-traffic/ldap-test/api/v1"
)

// Unit is the test or suite a fixture is started for.
type Unit interface {
	// IsTest reports whether the unit is an executable test rather than a suite
	IsTest() bool
	// Metadata returns the metadata declared on the unit itself, or nil
	Metadata() *v1.InMemoryLDAPServerSpec
	// SuiteMetadata returns the metadata declared on the enclosing suite, or nil
	SuiteMetadata() *v1.InMemoryLDAPServerSpec
}

// StaticUnit is a Unit with literal metadata.
type StaticUnit struct {
	Name       string
	Executable bool
	Declared   *v1.InMemoryLDAPServerSpec
	Suite      *v1.InMemoryLDAPServerSpec
}

func (u StaticUnit) IsTest() bool                              { return u.Executable }
func (u StaticUnit) Metadata() *v1.InMemoryLDAPServerSpec      { return u.Declared }
func (u StaticUnit) SuiteMetadata() *v1.InMemoryLDAPServerSpec { return u.Suite }
func (u StaticUnit) String() string                            { return u.Name }

// Resolve returns the effective fixture metadata for unit. Metadata declared
// on the unit wins; a test without its own metadata falls back to its suite.
// The result is a defaulted and validated copy.
func Resolve(unit Unit) (*v1.InMemoryLDAPServerSpec, error) {
	name := unitName(unit)
	if unit == nil {
		return nil, &ConfigurationError{Err: ErrMissingMetadata}
	}

	declared := unit.Metadata()
	if declared == nil && unit.IsTest() {
		declared = unit.SuiteMetadata()
	}
	if declared == nil {
		return nil, &ConfigurationError{Unit: name, Err: ErrMissingMetadata}
	}

	spec := declared.DeepCopy()
	spec.SetDefaults()
	if err := spec.Validate(); err != nil {
		return nil, &ConfigurationError{Unit: name, Err: err}
	}
	return spec, nil
}

func unitName(unit Unit) string {
	if s, ok := unit.(fmt.Stringer); ok {
		return s.String()
	}
	return ""
}
