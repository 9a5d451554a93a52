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
	"time"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// authenticate checks a simple bind. An empty name and password is an
// anonymous bind.
func (s *Server) authenticate(name, password string) error {
	if name == "" && password == "" {
		return nil
	}
	if name == "" {
		return newError(ldap.LDAPResultInvalidCredentials, "", "a password requires a bind DN")
	}
	if password == "" {
		return newError(ldap.LDAPResultUnwillingToPerform, "", "unauthenticated binds are not allowed")
	}

	parsed, err := parseDN(name)
	if err != nil {
		return invalidDN(name, err)
	}
	if cred, ok := s.cfg.credentials[normalize(parsed)]; ok && cred.password == password {
		return nil
	}
	if e, ok := s.store.get(parsed); ok {
		if a := e.attribute("userPassword"); a != nil {
			for _, v := range a.values {
				if v == password {
					return nil
				}
			}
		}
	}
	return newError(ldap.LDAPResultInvalidCredentials, "", "invalid credentials for %q", name)
}

// modification is one change of a modify request.
type modification struct {
	op   int64
	attr ldap.Attribute
}

func (s *Server) modify(dn string, mods []modification, bindDN string) error {
	parsed, err := parseDN(dn)
	if err != nil {
		return invalidDN(dn, err)
	}

	err = s.store.update(parsed, func(e *entry) error {
		for _, m := range mods {
			if err := applyModification(e, m); err != nil {
				return err
			}
		}
		if s.cfg.schema != nil {
			if err := s.cfg.schema.validate(e); err != nil {
				return err
			}
		}
		stampModified(e, bindDN, time.Now())
		return nil
	})
	if err != nil {
		return err
	}
	s.log.V(1).Info("Entry modified", "dn", dn, "changes", len(mods))
	return nil
}

func applyModification(e *entry, m modification) error {
	name := m.attr.Type
	if isOperational(name) {
		return newError(ldap.LDAPResultConstraintViolation, "", "attribute %q is not user modifiable", name)
	}

	switch m.op {
	case ldap.AddAttribute:
		if len(m.attr.Vals) == 0 {
			return newError(ldap.LDAPResultConstraintViolation, "", "no values to add for attribute %q", name)
		}
		a := e.attribute(name)
		if a == nil {
			a = &attribute{name: name}
			e.attributes = append(e.attributes, a)
		}
		for _, v := range m.attr.Vals {
			if a.hasValue(v) {
				return newError(ldap.LDAPResultAttributeOrValueExists, "", "attribute %q already has value %q", name, v)
			}
			a.values = append(a.values, v)
		}

	case ldap.DeleteAttribute:
		a := e.attribute(name)
		if a == nil {
			return newError(ldap.LDAPResultNoSuchAttribute, "", "entry %q has no attribute %q", e.dn, name)
		}
		if len(m.attr.Vals) == 0 {
			e.removeAttribute(name)
			return nil
		}
		for _, v := range m.attr.Vals {
			if !a.hasValue(v) {
				return newError(ldap.LDAPResultNoSuchAttribute, "", "attribute %q has no value %q", name, v)
			}
			kept := a.values[:0]
			for _, existing := range a.values {
				if !strings.EqualFold(existing, v) {
					kept = append(kept, existing)
				}
			}
			a.values = kept
		}
		if len(a.values) == 0 {
			e.removeAttribute(name)
		}

	case ldap.ReplaceAttribute:
		if len(m.attr.Vals) == 0 {
			e.removeAttribute(name)
			return nil
		}
		a := e.attribute(name)
		if a == nil {
			a = &attribute{name: name}
			e.attributes = append(e.attributes, a)
		}
		a.values = a.values[:0]
		for _, v := range m.attr.Vals {
			if !a.hasValue(v) {
				a.values = append(a.values, v)
			}
		}

	default:
		return protocolError("unsupported modify operation %d", m.op)
	}
	return nil
}

func (s *Server) compare(dn, name, value string) (bool, error) {
	parsed, err := parseDN(dn)
	if err != nil {
		return false, invalidDN(dn, err)
	}
	e, ok := s.store.get(parsed)
	if !ok {
		return false, newError(ldap.LDAPResultNoSuchObject, s.store.matchedDN(parsed), "entry %q does not exist", dn)
	}
	a := e.lookup(name)
	if a == nil {
		return false, newError(ldap.LDAPResultNoSuchAttribute, "", "entry %q has no attribute %q", dn, name)
	}
	return a.hasValue(value), nil
}

// searchRequest is a decoded SearchRequest.
type searchRequest struct {
	baseDN     string
	scope      int64
	sizeLimit  int64
	typesOnly  bool
	filter     *ber.Packet
	attributes []string
}

func decodeSearch(op *ber.Packet) (*searchRequest, error) {
	req := &searchRequest{}
	var err error
	if req.baseDN, err = stringAt(op, 0); err != nil {
		return nil, err
	}
	if req.scope, err = intAt(op, 1); err != nil {
		return nil, err
	}
	if req.sizeLimit, err = intAt(op, 3); err != nil {
		return nil, err
	}
	if req.typesOnly, err = boolAt(op, 5); err != nil {
		return nil, err
	}
	if req.filter, err = child(op, 6); err != nil {
		return nil, err
	}
	attrs, err := child(op, 7)
	if err != nil {
		return nil, err
	}
	for _, a := range attrs.Children {
		req.attributes = append(req.attributes, a.Data.String())
	}

	switch req.scope {
	case ldap.ScopeBaseObject, ldap.ScopeSingleLevel, ldap.ScopeWholeSubtree, ldap.ScopeChildren:
	default:
		return nil, protocolError("invalid search scope %d", req.scope)
	}
	return req, nil
}

// search sends every matching entry to send until send returns false.
func (s *Server) search(req *searchRequest, send func(*ldap.Entry) bool) error {
	sel := newSelection(req.attributes)

	if req.baseDN == "" && req.scope == ldap.ScopeBaseObject {
		root := s.rootDSE()
		ok, err := matches(req.filter, root)
		if err != nil {
			return err
		}
		if ok {
			send(root.toLDAP(sel))
		}
		return nil
	}

	base := &ldap.DN{}
	if req.baseDN != "" {
		parsed, err := parseDN(req.baseDN)
		if err != nil {
			return invalidDN(req.baseDN, err)
		}
		if _, ok := s.store.get(parsed); !ok {
			return newError(ldap.LDAPResultNoSuchObject, s.store.matchedDN(parsed), "search base %q does not exist", req.baseDN)
		}
		base = parsed
	}

	var filterErr error
	count := int64(0)
	exceeded := false
	s.store.each(func(e *entry) bool {
		if !inScope(base, e.parsed, req.scope) {
			return true
		}
		ok, err := matches(req.filter, e)
		if err != nil {
			filterErr = err
			return false
		}
		if !ok {
			return true
		}
		if req.sizeLimit > 0 && count >= req.sizeLimit {
			exceeded = true
			return false
		}
		count++
		return send(e.toLDAP(sel))
	})

	if filterErr != nil {
		return filterErr
	}
	if exceeded {
		return newError(ldap.LDAPResultSizeLimitExceeded, "", "size limit of %d entries exceeded", req.sizeLimit)
	}
	return nil
}

func inScope(base, dn *ldap.DN, scope int64) bool {
	switch scope {
	case ldap.ScopeBaseObject:
		return base.EqualFold(dn)
	case ldap.ScopeSingleLevel:
		return len(dn.RDNs) == len(base.RDNs)+1 && base.AncestorOfFold(dn)
	case ldap.ScopeWholeSubtree:
		return underOrEqual(base, dn)
	case ldap.ScopeChildren:
		return base.AncestorOfFold(dn)
	}
	return false
}

// rootDSE builds the root DSE entry.
func (s *Server) rootDSE() *entry {
	return &entry{
		dn:     "",
		parsed: &ldap.DN{},
		attributes: []*attribute{
			{name: "objectClass", values: []string{"top", "extensibleObject"}},
			{name: "namingContexts", values: s.cfg.BaseDNs()},
			{name: "supportedLDAPVersion", values: []string{"3"}},
			{name: "vendorName", values: []string{"guided-traffic"}},
			{name: "vendorVersion", values: []string{"ldap-test"}},
		},
	}
}
