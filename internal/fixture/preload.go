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
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// PreloadEntry is an entry inserted right after the fixture starts.
type PreloadEntry struct {
	DN         string
	Attributes []ldap.Attribute
}

// Preload is an ordered set of entries keyed by DN. Entries are inserted in
// the order their DN was first put.
type Preload struct {
	keys    []string
	entries map[string]PreloadEntry
}

// NewPreload creates an empty preload.
func NewPreload() *Preload {
	return &Preload{entries: make(map[string]PreloadEntry)}
}

// Put sets the entry for dn. Replacing an existing DN keeps its position.
func (p *Preload) Put(dn string, attrs ...ldap.Attribute) *Preload {
	if _, ok := p.entries[dn]; !ok {
		p.keys = append(p.keys, dn)
	}
	p.entries[dn] = PreloadEntry{DN: dn, Attributes: copyAttributes(attrs)}
	return p
}

// PutEntry sets a go-ldap entry.
func (p *Preload) PutEntry(e *ldap.Entry) *Preload {
	attrs := make([]ldap.Attribute, 0, len(e.Attributes))
	for _, a := range e.Attributes {
		attrs = append(attrs, ldap.Attribute{Type: a.Name, Vals: a.Values})
	}
	return p.Put(e.DN, attrs...)
}

// Entries returns the entries in insertion order.
func (p *Preload) Entries() []PreloadEntry {
	if p == nil {
		return nil
	}
	out := make([]PreloadEntry, 0, len(p.keys))
	for _, key := range p.keys {
		e := p.entries[key]
		out = append(out, PreloadEntry{DN: e.DN, Attributes: copyAttributes(e.Attributes)})
	}
	return out
}

// Len returns the number of entries.
func (p *Preload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Clone returns a deep copy of p.
func (p *Preload) Clone() *Preload {
	out := NewPreload()
	for _, e := range p.Entries() {
		out.Put(e.DN, e.Attributes...)
	}
	return out
}

func copyAttributes(attrs []ldap.Attribute) []ldap.Attribute {
	out := make([]ldap.Attribute, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, ldap.Attribute{Type: a.Type, Vals: append([]string(nil), a.Vals...)})
	}
	return out
}

// NamingContextEntries builds entries for baseDNs and those of their ancestors
// that lie within one of baseDNs, parents first. The object class is chosen
// from the RDN type: dc, o, ou and c map to domain, organization,
// organizationalUnit and country. A DN that does not parse is kept verbatim so
// that preloading it reports the syntax error.
func NamingContextEntries(baseDNs ...string) *Preload {
	p := NewPreload()
	seen := make(map[string]bool)

	var bases []*ldap.DN
	for _, baseDN := range baseDNs {
		if parsed, err := ldap.ParseDN(baseDN); err == nil && len(parsed.RDNs) > 0 {
			bases = append(bases, parsed)
		}
	}

	for _, baseDN := range baseDNs {
		parsed, err := ldap.ParseDN(baseDN)
		if err != nil || len(parsed.RDNs) == 0 {
			p.Put(baseDN)
			continue
		}

		for i := len(parsed.RDNs) - 1; i >= 0; i-- {
			dn := &ldap.DN{RDNs: parsed.RDNs[i:]}
			key := strings.ToLower(dn.String())
			if seen[key] || !withinAny(bases, dn) {
				continue
			}
			seen[key] = true

			name := dn.String()
			if i == 0 {
				name = baseDN
			}
			p.Put(name, rdnAttributes(parsed.RDNs[i])...)
		}
	}
	return p
}

func withinAny(bases []*ldap.DN, dn *ldap.DN) bool {
	for _, base := range bases {
		if base.EqualFold(dn) || base.AncestorOfFold(dn) {
			return true
		}
	}
	return false
}

func rdnAttributes(rdn *ldap.RelativeDN) []ldap.Attribute {
	first := rdn.Attributes[0]

	var class string
	switch strings.ToLower(first.Type) {
	case "dc":
		class = "domain"
	case "o":
		class = "organization"
	case "ou":
		class = "organizationalUnit"
	case "c":
		class = "country"
	default:
		class = "extensibleObject"
	}

	attrs := []ldap.Attribute{{Type: "objectClass", Vals: []string{"top", class}}}
	for _, atv := range rdn.Attributes {
		attrs = append(attrs, ldap.Attribute{Type: atv.Type, Vals: []string{atv.Value}})
	}
	return attrs
}
