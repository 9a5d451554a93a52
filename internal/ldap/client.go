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

package ldap

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-ldap/ldap/v3"

	v1 "github.com/guided-traffic/ldap-test/api/v1"
)

const searchTimeLimit = 30

// errNotConnected is returned by operations on a client without a connection.
var errNotConnected = errors.New("no active connection")

// Client represents an LDAP client wrapper
type Client struct {
	conn   *ldap.Conn
	config *v1.ConnectionSpec
}

// NewClient dials the server described by spec and binds as spec.BindDN. An
// empty BindDN keeps the connection anonymous. Defaults are applied to a copy
// of spec, which is validated before dialing.
func NewClient(spec *v1.ConnectionSpec, password string) (*Client, error) {
	if spec == nil {
		return nil, errors.New("invalid connection spec: no spec given")
	}
	spec = spec.DeepCopy()
	spec.SetDefaults()
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection spec: %w", err)
	}

	conn, err := dial(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to LDAP server: %w", err)
	}

	if spec.ConnectionTimeout > 0 {
		conn.SetTimeout(time.Duration(spec.ConnectionTimeout) * time.Second)
	}

	if spec.BindDN != "" {
		if err := conn.Bind(spec.BindDN, password); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to bind to LDAP server: %w", err)
		}
	}

	return &Client{conn: conn, config: spec}, nil
}

// dial opens an ldap:// or, with TLS enabled, an ldaps:// connection.
func dial(spec *v1.ConnectionSpec) (*ldap.Conn, error) {
	address := net.JoinHostPort(spec.Host, strconv.Itoa(int(spec.Port)))
	if spec.TLS == nil || !spec.TLS.Enabled {
		return ldap.DialURL("ldap://" + address)
	}
	return ldap.DialURL("ldaps://"+address, ldap.DialWithTLSConfig(&tls.Config{
		ServerName:         spec.Host,
		InsecureSkipVerify: spec.TLS.InsecureSkipVerify,
	}))
}

// Close closes the LDAP connection
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// TestConnection reads the base entry to check that the connection works
func (c *Client) TestConnection() error {
	if c.conn == nil {
		return errNotConnected
	}
	_, err := c.readEntry(c.config.BaseDN, "1.1")
	return err
}

// Add sends an add request as is
func (c *Client) Add(req *ldap.AddRequest) error {
	return c.conn.Add(req)
}

// CreateEntry adds an entry built from attrs
func (c *Client) CreateEntry(dn string, attrs []ldap.Attribute) error {
	return c.conn.Add(&ldap.AddRequest{DN: dn, Attributes: attrs})
}

// DeleteEntry deletes a leaf entry
func (c *Client) DeleteEntry(dn string) error {
	return c.conn.Del(ldap.NewDelRequest(dn, nil))
}

// EntryExists checks if an entry exists
func (c *Client) EntryExists(dn string) (bool, error) {
	entry, err := c.readEntry(dn, "1.1")
	switch {
	case ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject):
		return false, nil
	case err != nil:
		return false, err
	}
	return entry != nil, nil
}

// ReplaceAttribute replaces all values of attribute on dn
func (c *Client) ReplaceAttribute(dn, attribute string, values []string) error {
	req := ldap.NewModifyRequest(dn, nil)
	req.Replace(attribute, values)
	return c.conn.Modify(req)
}

// Compare reports whether dn holds value in attribute
func (c *Client) Compare(dn, attribute, value string) (bool, error) {
	return c.conn.Compare(dn, attribute, value)
}

// Search searches the subtree below the configured base DN
func (c *Client) Search(filter string, attributes []string) ([]*ldap.Entry, error) {
	res, err := c.conn.Search(ldap.NewSearchRequest(c.config.BaseDN, ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases, 0, searchTimeLimit, false, filter, attributes, nil))
	if err != nil {
		return nil, err
	}
	return res.Entries, nil
}

// GetAttributeValues retrieves all values of attribute on dn
func (c *Client) GetAttributeValues(dn, attribute string) ([]string, error) {
	entry, err := c.readEntry(dn, attribute)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return []string{}, nil
	}
	return entry.GetAttributeValues(attribute), nil
}

// readEntry reads the entry at dn with the given attributes. It returns nil
// when the server answers without an entry.
func (c *Client) readEntry(dn string, attributes ...string) (*ldap.Entry, error) {
	res, err := c.conn.Search(ldap.NewSearchRequest(dn, ldap.ScopeBaseObject,
		ldap.NeverDerefAliases, 1, searchTimeLimit, false, "(objectClass=*)", attributes, nil))
	if err != nil {
		return nil, err
	}
	if len(res.Entries) == 0 {
		return nil, nil
	}
	return res.Entries[0], nil
}
