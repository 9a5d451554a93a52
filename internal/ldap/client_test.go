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
)

var _ = Describe("LDAP Client", func() {
	var (
		ctx    context.Context
		server *LDAPTestServer
		client *Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = NewLDAPTestServer()
		Expect(server.Start(ctx)).To(Succeed())
		DeferCleanup(func() {
			server.Stop(ctx)
		})

		var err error
		client, err = NewClient(server.GetConnectionSpec(), server.GetAdminPassword())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			Expect(client.Close()).To(Succeed())
		})
	})

	Context("Connection", func() {
		It("Should read the base entry", func() {
			Expect(client.TestConnection()).To(Succeed())
		})

		It("Should fail to bind with a wrong password", func() {
			c, err := NewClient(server.GetConnectionSpec(), "wrong")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to bind"))
			Expect(ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials)).To(BeTrue())
			Expect(c).To(BeNil())
		})

		It("Should apply connection defaults without changing the given spec", func() {
			spec := server.GetConnectionSpec()
			spec.Host = ""
			spec.ConnectionTimeout = 0

			c, err := NewClient(spec, server.GetAdminPassword())
			Expect(err).NotTo(HaveOccurred())
			defer c.Close()

			Expect(c.TestConnection()).To(Succeed())
			Expect(c.config.Host).To(Equal(v1.DefaultListenerAddress))
			Expect(c.config.ConnectionTimeout).To(Equal(int32(30)))
			Expect(spec.Host).To(BeEmpty())
			Expect(spec.ConnectionTimeout).To(BeZero())
		})

		It("Should connect anonymously without a bind DN", func() {
			spec := server.GetConnectionSpec()
			spec.BindDN = ""

			c, err := NewClient(spec, "")
			Expect(err).NotTo(HaveOccurred())
			defer c.Close()

			Expect(c.TestConnection()).To(Succeed())
			Expect(c.CreateEntry("uid=anon,ou=users,"+baseDN, []ldap.Attribute{
				{Type: "uid", Vals: []string{"anon"}},
			})).To(Succeed())

			values, err := c.GetAttributeValues("uid=anon,ou=users,"+baseDN, "creatorsName")
			Expect(err).NotTo(HaveOccurred())
			Expect(values).To(ConsistOf(""))
		})
	})

	Context("Entries", func() {
		userDN := "uid=jdoe,ou=users," + baseDN
		userAttrs := []ldap.Attribute{
			{Type: "objectClass", Vals: []string{"inetOrgPerson", "top"}},
			{Type: "uid", Vals: []string{"jdoe"}},
			{Type: "cn", Vals: []string{"John Doe"}},
			{Type: "sn", Vals: []string{"Doe"}},
			{Type: "mail", Vals: []string{"jdoe@example.com"}},
		}

		It("Should create, find and delete an entry", func() {
			exists, err := client.EntryExists(userDN)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())

			Expect(client.CreateEntry(userDN, userAttrs)).To(Succeed())

			exists, err = client.EntryExists(userDN)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue())

			Expect(client.DeleteEntry(userDN)).To(Succeed())

			exists, err = client.EntryExists(userDN)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})

		It("Should send add requests unchanged", func() {
			req := ldap.NewAddRequest(userDN, nil)
			req.Attribute("uid", []string{"jdoe"})
			Expect(client.Add(req)).To(Succeed())

			expectLDAPCode(client.Add(req), ldap.LDAPResultEntryAlreadyExists)
		})

		It("Should reject an entry without its parent", func() {
			expectLDAPCode(client.CreateEntry("uid=x,ou=missing,"+baseDN, userAttrs), ldap.LDAPResultNoSuchObject)
		})

		It("Should refuse to delete an entry with children", func() {
			Expect(client.CreateEntry(userDN, userAttrs)).To(Succeed())
			expectLDAPCode(client.DeleteEntry("ou=users,"+baseDN), ldap.LDAPResultNotAllowedOnNonLeaf)
		})

		It("Should replace and read attribute values", func() {
			Expect(client.CreateEntry(userDN, userAttrs)).To(Succeed())
			Expect(client.ReplaceAttribute(userDN, "mail", []string{"john@example.com", "doe@example.com"})).To(Succeed())

			values, err := client.GetAttributeValues(userDN, "mail")
			Expect(err).NotTo(HaveOccurred())
			Expect(values).To(ConsistOf("john@example.com", "doe@example.com"))

			matched, err := client.Compare(userDN, "mail", "john@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(matched).To(BeTrue())

			matched, err = client.Compare(userDN, "mail", "jdoe@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(matched).To(BeFalse())
		})

		It("Should return no values for a missing attribute", func() {
			Expect(client.CreateEntry(userDN, userAttrs)).To(Succeed())

			values, err := client.GetAttributeValues(userDN, "telephoneNumber")
			Expect(err).NotTo(HaveOccurred())
			Expect(values).To(BeEmpty())
		})

		It("Should search below the base DN", func() {
			Expect(client.CreateEntry(userDN, userAttrs)).To(Succeed())
			Expect(client.CreateEntry("uid=asmith,ou=users,"+baseDN, []ldap.Attribute{
				{Type: "objectClass", Vals: []string{"inetOrgPerson", "top"}},
				{Type: "uid", Vals: []string{"asmith"}},
				{Type: "cn", Vals: []string{"Alice Smith"}},
				{Type: "sn", Vals: []string{"Smith"}},
			})).To(Succeed())

			entries, err := client.Search("(&(objectClass=inetOrgPerson)(cn=*Doe))", []string{"uid"})
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].DN).To(Equal(userDN))
			Expect(entries[0].GetAttributeValue("uid")).To(Equal("jdoe"))
			Expect(entries[0].GetAttributeValue("cn")).To(BeEmpty())

			entries, err = client.Search("(objectClass=inetOrgPerson)", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
		})

		It("Should record who created an entry", func() {
			Expect(client.CreateEntry(userDN, userAttrs)).To(Succeed())

			values, err := client.GetAttributeValues(userDN, "creatorsName")
			Expect(err).NotTo(HaveOccurred())
			Expect(values).To(ConsistOf(adminDN))
		})
	})

	Context("Server shutdown", func() {
		It("Should fail operations once the server is gone", func() {
			port := int32(server.Port())
			server.Stop(ctx)

			_, err := client.EntryExists(baseDN)
			Expect(err).To(HaveOccurred())

			_, err = NewClient(&v1.ConnectionSpec{Host: "localhost", Port: port}, "")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to connect"))
		})
	})
})
