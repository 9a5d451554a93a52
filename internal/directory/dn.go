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
)

// parseDN parses dn and rejects the empty DN, which only names the root DSE.
func parseDN(dn string) (*ldap.DN, error) {
	if strings.TrimSpace(dn) == "" {
		return nil, errors.New("DN cannot be empty")
	}
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return nil, err
	}
	if len(parsed.RDNs) == 0 {
		return nil, errors.New("DN has no RDN components")
	}
	return parsed, nil
}

// normalize returns the store key of a parsed DN.
func normalize(dn *ldap.DN) string {
	return strings.ToLower(dn.String())
}

// parentOf returns the immediate parent of dn, or nil for a single RDN.
func parentOf(dn *ldap.DN) *ldap.DN {
	if len(dn.RDNs) <= 1 {
		return nil
	}
	return &ldap.DN{RDNs: dn.RDNs[1:]}
}

// underOrEqual reports whether dn is base itself or one of its descendants.
func underOrEqual(base, dn *ldap.DN) bool {
	return base.EqualFold(dn) || base.AncestorOfFold(dn)
}

// invalidDN wraps a DN parse failure into an invalidDNSyntax result.
func invalidDN(dn string, err error) *ldap.Error {
	return newError(ldap.LDAPResultInvalidDNSyntax, "", "invalid DN %q: %v", dn, err)
}

// newError builds an LDAP result error.
func newError(code uint16, matchedDN, format string, args ...any) *ldap.Error {
	return &ldap.Error{
		ResultCode: code,
		MatchedDN:  matchedDN,
		Err:        fmt.Errorf(format, args...),
	}
}

// resultOf extracts the result code, matched DN and diagnostic message of err.
func resultOf(err error) (uint16, string, string) {
	if err == nil {
		return ldap.LDAPResultSuccess, "", ""
	}
	var lerr *ldap.Error
	if errors.As(err, &lerr) {
		msg := ""
		if lerr.Err != nil {
			msg = lerr.Err.Error()
		}
		return lerr.ResultCode, lerr.MatchedDN, msg
	}
	return ldap.LDAPResultOther, "", err.Error()
}
