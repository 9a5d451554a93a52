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
	"sync"

	"github.com/go-ldap/ldap/v3"
)

// store keeps entries keyed by normalized DN and remembers insertion order.
type store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

func newStore() *store {
	return &store{entries: make(map[string]*entry)}
}

// insert adds e. The parent must exist unless namingContext is set.
func (s *store) insert(e *entry, namingContext bool) error {
	key := e.key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; exists {
		return newError(ldap.LDAPResultEntryAlreadyExists, "", "entry %q already exists", e.dn)
	}
	if !namingContext {
		parent := parentOf(e.parsed)
		if parent == nil {
			return newError(ldap.LDAPResultNoSuchObject, "", "entry %q has no parent", e.dn)
		}
		if _, ok := s.entries[normalize(parent)]; !ok {
			return newError(ldap.LDAPResultNoSuchObject, s.matched(parent), "parent entry %q of %q does not exist", parent.String(), e.dn)
		}
	}

	s.entries[key] = e
	s.order = append(s.order, key)
	return nil
}

// matched returns the closest existing ancestor-or-self of dn. Callers hold the lock.
func (s *store) matched(dn *ldap.DN) string {
	for d := dn; d != nil; d = parentOf(d) {
		if e, ok := s.entries[normalize(d)]; ok {
			return e.dn
		}
	}
	return ""
}

// remove deletes a leaf entry.
func (s *store) remove(dn *ldap.DN) error {
	key := normalize(dn)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return newError(ldap.LDAPResultNoSuchObject, s.matched(dn), "entry %q does not exist", dn.String())
	}
	for _, other := range s.entries {
		if e.parsed.AncestorOfFold(other.parsed) {
			return newError(ldap.LDAPResultNotAllowedOnNonLeaf, "", "entry %q has subordinate entries", e.dn)
		}
	}

	delete(s.entries, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// update applies fn to a copy of the entry at dn and stores the result if fn
// succeeds.
func (s *store) update(dn *ldap.DN, fn func(*entry) error) error {
	key := normalize(dn)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return newError(ldap.LDAPResultNoSuchObject, s.matched(dn), "entry %q does not exist", dn.String())
	}
	updated := e.clone()
	if err := fn(updated); err != nil {
		return err
	}
	s.entries[key] = updated
	return nil
}

// get returns a copy of the entry at dn.
func (s *store) get(dn *ldap.DN) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[normalize(dn)]
	if !ok {
		return nil, false
	}
	return e.clone(), true
}

// matchedDN returns the closest existing ancestor of dn.
func (s *store) matchedDN(dn *ldap.DN) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matched(dn)
}

// each calls fn with a copy of every entry in insertion order until fn
// returns false.
func (s *store) each(fn func(*entry) bool) {
	s.mu.RLock()
	snapshot := make([]*entry, 0, len(s.order))
	for _, key := range s.order {
		snapshot = append(snapshot, s.entries[key].clone())
	}
	s.mu.RUnlock()

	for _, e := range snapshot {
		if !fn(e) {
			return
		}
	}
}

func (s *store) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
