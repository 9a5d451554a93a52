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
	"strconv"
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// matches evaluates a BER encoded search filter against e.
func matches(f *ber.Packet, e *entry) (bool, error) {
	if f == nil || f.ClassType != ber.ClassContext {
		return false, protocolError("malformed search filter")
	}

	switch f.Tag {
	case ldap.FilterAnd:
		for _, child := range f.Children {
			ok, err := matches(child, e)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case ldap.FilterOr:
		for _, child := range f.Children {
			ok, err := matches(child, e)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case ldap.FilterNot:
		if len(f.Children) != 1 {
			return false, protocolError("not filter requires exactly one component")
		}
		ok, err := matches(f.Children[0], e)
		return !ok, err

	case ldap.FilterPresent:
		name := f.Data.String()
		if strings.EqualFold(name, "objectClass") {
			return true, nil
		}
		return e.lookup(name) != nil, nil

	case ldap.FilterEqualityMatch, ldap.FilterApproxMatch, ldap.FilterGreaterOrEqual, ldap.FilterLessOrEqual:
		name, value, err := assertion(f)
		if err != nil {
			return false, err
		}
		attr := e.lookup(name)
		if attr == nil {
			return false, nil
		}
		for _, v := range attr.values {
			if compareValue(int(f.Tag), v, value) {
				return true, nil
			}
		}
		return false, nil

	case ldap.FilterSubstrings:
		return matchSubstrings(f, e)

	case ldap.FilterExtensibleMatch:
		return false, nil
	}

	return false, protocolError("unsupported filter choice %d", f.Tag)
}

// assertion returns the attribute description and value of an attribute value
// assertion.
func assertion(f *ber.Packet) (string, string, error) {
	if len(f.Children) != 2 {
		return "", "", protocolError("malformed attribute value assertion")
	}
	return f.Children[0].Data.String(), f.Children[1].Data.String(), nil
}

func compareValue(choice int, have, want string) bool {
	switch choice {
	case ldap.FilterEqualityMatch:
		return strings.EqualFold(have, want)
	case ldap.FilterApproxMatch:
		return strings.EqualFold(strings.Join(strings.Fields(have), ""), strings.Join(strings.Fields(want), ""))
	case ldap.FilterGreaterOrEqual:
		return order(have, want) >= 0
	case ldap.FilterLessOrEqual:
		return order(have, want) <= 0
	}
	return false
}

// order compares integers numerically and everything else case-insensitively.
func order(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

func matchSubstrings(f *ber.Packet, e *entry) (bool, error) {
	if len(f.Children) != 2 {
		return false, protocolError("malformed substrings filter")
	}
	attr := e.lookup(f.Children[0].Data.String())
	if attr == nil {
		return false, nil
	}

	var initial, final string
	var middle []string
	for _, part := range f.Children[1].Children {
		value := strings.ToLower(part.Data.String())
		switch part.Tag {
		case ldap.FilterSubstringsInitial:
			initial = value
		case ldap.FilterSubstringsAny:
			middle = append(middle, value)
		case ldap.FilterSubstringsFinal:
			final = value
		default:
			return false, protocolError("invalid substring choice %d", part.Tag)
		}
	}

	for _, v := range attr.values {
		if substringMatch(strings.ToLower(v), initial, middle, final) {
			return true, nil
		}
	}
	return false, nil
}

func substringMatch(value, initial string, middle []string, final string) bool {
	if !strings.HasPrefix(value, initial) {
		return false
	}
	value = value[len(initial):]
	for _, part := range middle {
		i := strings.Index(value, part)
		if i < 0 {
			return false
		}
		value = value[i+len(part):]
	}
	return strings.HasSuffix(value, final)
}
