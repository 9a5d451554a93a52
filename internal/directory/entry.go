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
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// attribute is one attribute of a stored entry.
type attribute struct {
	name   string
	values []string
}

func (a *attribute) hasValue(value string) bool {
	for _, v := range a.values {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

func (a *attribute) clone() *attribute {
	return &attribute{name: a.name, values: append([]string(nil), a.values...)}
}

// entry is a stored directory entry. User attributes keep the order they were
// added in, operational attributes are maintained by the server.
type entry struct {
	dn          string
	parsed      *ldap.DN
	attributes  []*attribute
	operational []*attribute
}

// newEntry builds an entry from a DN and attributes, merging repeated types.
func newEntry(dn string, parsed *ldap.DN, attrs []ldap.Attribute) (*entry, error) {
	e := &entry{dn: dn, parsed: parsed}
	for _, attr := range attrs {
		if strings.TrimSpace(attr.Type) == "" {
			return nil, newError(ldap.LDAPResultProtocolError, "", "attribute type cannot be empty in entry %q", dn)
		}
		if isOperational(attr.Type) {
			return nil, newError(ldap.LDAPResultConstraintViolation, "", "attribute %q is not user modifiable", attr.Type)
		}
		if len(attr.Vals) == 0 {
			return nil, newError(ldap.LDAPResultConstraintViolation, "", "attribute %q in entry %q has no values", attr.Type, dn)
		}
		existing := e.attribute(attr.Type)
		if existing == nil {
			existing = &attribute{name: attr.Type}
			e.attributes = append(e.attributes, existing)
		}
		for _, v := range attr.Vals {
			if !existing.hasValue(v) {
				existing.values = append(existing.values, v)
			}
		}
	}
	return e, nil
}

func (e *entry) key() string {
	return normalize(e.parsed)
}

// attribute returns the user attribute with the given type.
func (e *entry) attribute(name string) *attribute {
	return find(e.attributes, name)
}

// lookup returns a user or operational attribute with the given type.
func (e *entry) lookup(name string) *attribute {
	if a := find(e.attributes, name); a != nil {
		return a
	}
	return find(e.operational, name)
}

func (e *entry) setOperational(name string, values ...string) {
	if a := find(e.operational, name); a != nil {
		a.values = values
		return
	}
	e.operational = append(e.operational, &attribute{name: name, values: values})
}

func (e *entry) removeAttribute(name string) {
	for i, a := range e.attributes {
		if attributeNameEqual(a.name, name) {
			e.attributes = append(e.attributes[:i], e.attributes[i+1:]...)
			return
		}
	}
}

func (e *entry) clone() *entry {
	c := &entry{dn: e.dn, parsed: e.parsed}
	for _, a := range e.attributes {
		c.attributes = append(c.attributes, a.clone())
	}
	for _, a := range e.operational {
		c.operational = append(c.operational, a.clone())
	}
	return c
}

// toLDAP converts the entry into a go-ldap entry limited to sel.
func (e *entry) toLDAP(sel selection) *ldap.Entry {
	out := &ldap.Entry{DN: e.dn}
	for _, a := range e.attributes {
		if sel.includes(a.name, false) {
			out.Attributes = append(out.Attributes, ldap.NewEntryAttribute(a.name, append([]string(nil), a.values...)))
		}
	}
	for _, a := range e.operational {
		if sel.includes(a.name, true) {
			out.Attributes = append(out.Attributes, ldap.NewEntryAttribute(a.name, append([]string(nil), a.values...)))
		}
	}
	return out
}

func find(attrs []*attribute, name string) *attribute {
	for _, a := range attrs {
		if attributeNameEqual(a.name, name) {
			return a
		}
	}
	return nil
}

// attributeNameEqual compares attribute descriptions ignoring case and options.
func attributeNameEqual(a, b string) bool {
	return strings.EqualFold(baseName(a), baseName(b))
}

func baseName(name string) string {
	if i := strings.IndexByte(name, ';'); i >= 0 {
		return name[:i]
	}
	return name
}

// selection is the attribute list of a search request.
type selection struct {
	allUser        bool
	allOperational bool
	names          []string
}

func newSelection(requested []string) selection {
	if len(requested) == 0 {
		return selection{allUser: true}
	}
	var sel selection
	for _, name := range requested {
		switch name {
		case "*":
			sel.allUser = true
		case "+":
			sel.allOperational = true
		case "1.1":
		default:
			sel.names = append(sel.names, name)
		}
	}
	return sel
}

func (s selection) includes(name string, operational bool) bool {
	if operational && s.allOperational {
		return true
	}
	if !operational && s.allUser {
		return true
	}
	for _, n := range s.names {
		if attributeNameEqual(n, name) {
			return true
		}
	}
	return false
}
