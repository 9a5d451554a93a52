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

package v1

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Validate checks a defaulted spec and returns an aggregate of every problem found
func (s *InMemoryLDAPServerSpec) Validate() error {
	errs := validateInMemoryLDAPServerSpec(s, field.NewPath("spec"))
	if len(errs) == 0 {
		return nil
	}
	return errs.ToAggregate()
}

// validateInMemoryLDAPServerSpec validates the InMemoryLDAPServerSpec
func validateInMemoryLDAPServerSpec(spec *InMemoryLDAPServerSpec, fldPath *field.Path) field.ErrorList {
	var errs field.ErrorList

	// Validate naming contexts
	if len(spec.BaseDNs) == 0 {
		errs = append(errs, field.Required(fldPath.Child("baseDNs"), "at least one base DN is required"))
	}
	seen := make(map[string]bool, len(spec.BaseDNs))
	for i, baseDN := range spec.BaseDNs {
		idxPath := fldPath.Child("baseDNs").Index(i)
		normalized, ok := normalizeDN(baseDN)
		if !ok {
			errs = append(errs, field.Invalid(idxPath, baseDN, "must be a valid distinguished name"))
			continue
		}
		if seen[normalized] {
			errs = append(errs, field.Duplicate(idxPath, baseDN))
		}
		seen[normalized] = true
	}

	// Validate bind criteria
	bindable := make(map[string]bool, len(spec.BindCriteria))
	for i, criteria := range spec.BindCriteria {
		idxPath := fldPath.Child("bindCriteria").Index(i)
		normalized, ok := normalizeDN(criteria.BindableDN)
		if !ok {
			errs = append(errs, field.Invalid(idxPath.Child("bindableDN"), criteria.BindableDN, "must be a valid distinguished name"))
		} else if bindable[normalized] {
			errs = append(errs, field.Duplicate(idxPath.Child("bindableDN"), criteria.BindableDN))
		}
		bindable[normalized] = true

		if criteria.Password == "" {
			errs = append(errs, field.Required(idxPath.Child("password"), "password cannot be empty"))
		}
	}

	// Validate listener
	if spec.Name == "" {
		errs = append(errs, field.Required(fldPath.Child("name"), "listener name cannot be empty"))
	}
	if spec.Address == "" {
		errs = append(errs, field.Required(fldPath.Child("address"), "listener address cannot be empty"))
	}
	if spec.Port != nil && (*spec.Port < 0 || *spec.Port > 65535) {
		errs = append(errs, field.Invalid(fldPath.Child("port"), *spec.Port, "port must be between 0 and 65535"))
	}

	return errs
}

// validateConnectionSpec validates the ConnectionSpec
func validateConnectionSpec(spec *ConnectionSpec, fldPath *field.Path) field.ErrorList {
	var errs field.ErrorList

	if spec.Host == "" {
		errs = append(errs, field.Required(fldPath.Child("host"), "host cannot be empty"))
	}
	if spec.Port <= 0 || spec.Port > 65535 {
		errs = append(errs, field.Invalid(fldPath.Child("port"), spec.Port, "port must be between 1 and 65535"))
	}
	if spec.BindDN != "" && !isValidDN(spec.BindDN) {
		errs = append(errs, field.Invalid(fldPath.Child("bindDN"), spec.BindDN, "must be a valid distinguished name"))
	}
	if spec.ConnectionTimeout < 0 {
		errs = append(errs, field.Invalid(fldPath.Child("connectionTimeout"), spec.ConnectionTimeout, "connection timeout cannot be negative"))
	}

	return errs
}

// Validate checks the ConnectionSpec
func (s *ConnectionSpec) Validate() error {
	errs := validateConnectionSpec(s, field.NewPath("connection"))
	if len(errs) == 0 {
		return nil
	}
	return errs.ToAggregate()
}

// isValidDN checks that dn parses and names at least one RDN
func isValidDN(dn string) bool {
	_, ok := normalizeDN(dn)
	return ok
}

// normalizeDN returns the case folded form of dn used for duplicate detection
func normalizeDN(dn string) (string, bool) {
	if strings.TrimSpace(dn) == "" {
		return "", false
	}
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 {
		return "", false
	}
	return strings.ToLower(parsed.String()), true
}

// SetDefaults sets default values for InMemoryLDAPServerSpec
func (s *InMemoryLDAPServerSpec) SetDefaults() {
	if len(s.BaseDNs) == 0 {
		s.BaseDNs = []string{DefaultBaseDN}
	}

	if len(s.BindCriteria) == 0 {
		s.BindCriteria = []BindCriteria{{}}
	}
	for i := range s.BindCriteria {
		s.BindCriteria[i].SetDefaults()
	}

	if s.Name == "" {
		s.Name = DefaultListenerName
	}

	if s.Address == "" {
		s.Address = DefaultListenerAddress
	}

	if s.Port == nil {
		port := DefaultPort
		s.Port = &port
	}
}

// SetDefaults sets default values for BindCriteria
func (b *BindCriteria) SetDefaults() {
	if b.BindableDN == "" {
		b.BindableDN = DefaultBindableDN
	}
	if b.Password == "" {
		b.Password = DefaultPassword
	}
}

// SetDefaults sets default values for ConnectionSpec
func (s *ConnectionSpec) SetDefaults() {
	if s.Host == "" {
		s.Host = DefaultListenerAddress
	}

	if s.Port == 0 {
		if s.TLS != nil && s.TLS.Enabled {
			s.Port = 636 // Default LDAPS port
		} else {
			s.Port = DefaultPort
		}
	}

	if s.ConnectionTimeout == 0 {
		s.ConnectionTimeout = 30 // Default 30 seconds
	}
}
