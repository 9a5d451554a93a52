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

package command

import (
	"context"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/guided-traffic/ldap-test/api/v1"
	"github.com/guided-traffic/ldap-test/internal/fixture"
	ldapclient "github.com/guided-traffic/ldap-test/internal/ldap"
)

const fixtureAddress = "localhost:38900"

var registry = fixture.NewRegistry()

func init() {
	port := v1.DefaultPort
	registry.RegisterSuite("InsertCommandTest", v1.InMemoryLDAPServerSpec{
		BaseDNs: []string{"dc=com"},
		BindCriteria: []v1.BindCriteria{{
			BindableDN: "uid=admin,dc=example,dc=com",
			Password:   "password",
		}},
		Port: &port,
	})
}

func examplePreload() *fixture.Preload {
	return fixture.NewPreload().
		Put("dc=com",
			ldap.Attribute{Type: "objectClass", Vals: []string{"top", "domain"}},
			ldap.Attribute{Type: "dc", Vals: []string{"com"}}).
		Put("dc=example,dc=com",
			ldap.Attribute{Type: "objectClass", Vals: []string{"top", "domain"}},
			ldap.Attribute{Type: "dc", Vals: []string{"example"}})
}

func expectUnreachable() {
	GinkgoHelper()
	Eventually(func() error {
		conn, err := net.DialTimeout("tcp", fixtureAddress, time.Second)
		if err == nil {
			_ = conn.Close()
		}
		return err
	}).Should(HaveOccurred())
}

func dialFixture() *ldap.Conn {
	GinkgoHelper()
	conn, err := ldap.DialURL("ldap://" + fixtureAddress)
	Expect(err).NotTo(HaveOccurred())
	Expect(conn.Bind("uid=admin,dc=example,dc=com", "password")).To(Succeed())
	return conn
}

var _ = Describe("InsertCommandTest", func() {
	var (
		ctx     context.Context
		manager *fixture.Manager
	)

	BeforeEach(func() {
		ctx = context.Background()
		manager = fixture.NewManager(fixture.WithPreload(examplePreload()))
	})

	It("shouldInsertEntry", func() {
		err := manager.Apply(ctx, registry.ForSpec(), func(ctx context.Context) error {
			conn := dialFixture()
			defer conn.Close()

			res, err := NewInsertCommand(conn, johnDoeFull(), WithGroup("e2e")).Execute(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.ResultCode).To(BeEquivalentTo(ldap.LDAPResultSuccess))

			stored := manager.Server().Get("uid=john.doe,dc=example,dc=com")
			Expect(stored).NotTo(BeNil())
			Expect(stored.GetAttributeValue("givenName")).To(Equal("John"))
			return nil
		})
		Expect(err).NotTo(HaveOccurred())

		By("Checking that the listener is gone")
		expectUnreachable()
	})

	It("shouldReportRejectionsAsResults", func() {
		Expect(manager.Apply(ctx, registry.ForSpec(), func(ctx context.Context) error {
			conn := dialFixture()
			defer conn.Close()

			cmd := NewInsertCommand(conn, johnDoeFull(), WithGroup("e2e"))
			_, err := cmd.Execute(ctx)
			Expect(err).NotTo(HaveOccurred())

			res, err := cmd.Execute(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Success()).To(BeFalse())
			Expect(res.ResultCode).To(BeEquivalentTo(ldap.LDAPResultEntryAlreadyExists))

			orphan := ldap.NewEntry("uid=jane.doe,ou=missing,dc=example,dc=com", map[string][]string{"uid": {"jane.doe"}})
			res, err = NewInsertCommand(conn, orphan, WithGroup("e2e")).Execute(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.ResultCode).To(BeEquivalentTo(ldap.LDAPResultNoSuchObject))
			Expect(res.MatchedDN).To(Equal("dc=example,dc=com"))
			return nil
		})).To(Succeed())
	})

	It("shouldInsertThroughClient", func() {
		Expect(manager.Apply(ctx, registry.ForSpec(), func(ctx context.Context) error {
			client, err := ldapclient.NewClient(manager.ConnectionSpec(), manager.BindPassword())
			Expect(err).NotTo(HaveOccurred())
			defer client.Close()

			res, err := NewInsertCommand(client, johnDoeFull()).Execute(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Success()).To(BeTrue())

			exists, err := client.EntryExists("uid=john.doe,dc=example,dc=com")
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue())
			return nil
		})).To(Succeed())
	})

	It("shouldTearDownAfterFailedAssertion", func() {
		var failure error
		err := manager.Apply(ctx, registry.ForSpec(), func(ctx context.Context) error {
			failure = InterceptGomegaFailure(func() {
				Expect(manager.Server().Get("uid=nobody,dc=example,dc=com")).NotTo(BeNil())
			})
			return failure
		})

		Expect(failure).To(HaveOccurred())
		Expect(err).To(BeIdenticalTo(failure))
		expectUnreachable()
	})

	It("shouldReturnTransportFailuresAsErrors", func() {
		var conn *ldap.Conn
		Expect(manager.Apply(ctx, registry.ForSpec(), func(ctx context.Context) error {
			conn = dialFixture()
			return nil
		})).To(Succeed())
		defer conn.Close()

		before := breakerFor("e2e-closed").Counts().TotalFailures

		res, err := NewInsertCommand(conn, johnDoeFull(), WithGroup("e2e-closed")).Execute(ctx)
		Expect(err).To(HaveOccurred())
		Expect(res).To(BeNil())
		_, isResult := serverResult(err)
		Expect(isResult).To(BeFalse())
		Expect(breakerFor("e2e-closed").Counts().TotalFailures).To(Equal(before + 1))
	})
})

func johnDoeFull() *ldap.Entry {
	return ldap.NewEntry("uid=john.doe,dc=example,dc=com", map[string][]string{
		"objectClass": {"top", "person", "organizationalPerson", "inetOrgPerson"},
		"uid":         {"john.doe"},
		"givenName":   {"John"},
		"sn":          {"Doe"},
		"cn":          {"John Doe"},
	})
}
