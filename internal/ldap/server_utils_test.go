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
	"context"

	"github.com/go-ldap/ldap/v3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/guided-traffic/ldap-test/api/v1"
	"github.com/guided-traffic/ldap-test/internal/fixture"
)

const (
	baseDN        = "dc=example,dc=com"
	adminDN       = "cn=admin,dc=example,dc=com"
	adminPassword = "admin"
)

// LDAPTestServer runs an in-memory directory for client tests
type LDAPTestServer struct {
	manager *fixture.Manager
}

// NewLDAPTestServer creates a test server preloaded with the example tree
func NewLDAPTestServer() *LDAPTestServer {
	preload := fixture.NewPreload().
		Put("dc=com",
			ldap.Attribute{Type: "objectClass", Vals: []string{"top", "domain"}},
			ldap.Attribute{Type: "dc", Vals: []string{"com"}}).
		Put(baseDN,
			ldap.Attribute{Type: "objectClass", Vals: []string{"top", "domain"}},
			ldap.Attribute{Type: "dc", Vals: []string{"example"}}).
		Put("ou=users,"+baseDN,
			ldap.Attribute{Type: "objectClass", Vals: []string{"top", "organizationalUnit"}},
			ldap.Attribute{Type: "ou", Vals: []string{"users"}})

	return &LDAPTestServer{manager: fixture.NewManager(fixture.WithPreload(preload))}
}

// Start starts the server on a free port
func (s *LDAPTestServer) Start(ctx context.Context) error {
	By("Starting in-memory LDAP server")

	port := int32(0)
	return s.manager.Start(ctx, fixture.StaticUnit{
		Name:       "ldap-client",
		Executable: true,
		Declared: &v1.InMemoryLDAPServerSpec{
			BaseDNs:      []string{"dc=com"},
			BindCriteria: []v1.BindCriteria{{BindableDN: adminDN, Password: adminPassword}},
			Port:         &port,
		},
	})
}

// Stop stops the server and releases its port
func (s *LDAPTestServer) Stop(ctx context.Context) {
	By("Stopping in-memory LDAP server")
	s.manager.Stop(ctx)
}

// GetConnectionSpec returns the connection spec for the running server
func (s *LDAPTestServer) GetConnectionSpec() *v1.ConnectionSpec {
	spec := s.manager.ConnectionSpec()
	spec.BaseDN = baseDN
	return spec
}

// GetAdminPassword returns the admin password for the running server
func (s *LDAPTestServer) GetAdminPassword() string {
	return s.manager.BindPassword()
}

// Port returns the port the server listens on
func (s *LDAPTestServer) Port() int {
	return s.manager.Port()
}

func expectLDAPCode(err error, code uint16) {
	GinkgoHelper()
	Expect(err).To(HaveOccurred())
	Expect(ldap.IsErrorWithCode(err, code)).To(BeTrue(), "expected LDAP result %d, got %v", code, err)
}
