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
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/goleak"

	v1 "github.com/guided-traffic/ldap-test/api/v1"
)

const (
	sequentialPort int32 = 38912
	preloadPort    int32 = 38913
	failingPort    int32 = 38914
	idempotentPort int32 = 38915
)

func unitOnPort(port int32) StaticUnit {
	return StaticUnit{
		Name:       fmt.Sprintf("unit-on-%d", port),
		Executable: true,
		Declared:   &v1.InMemoryLDAPServerSpec{Port: &port},
	}
}

func domainEntry(dc string) []ldap.Attribute {
	return []ldap.Attribute{
		{Type: "objectClass", Vals: []string{"top", "domain"}},
		{Type: "dc", Vals: []string{dc}},
	}
}

func standardPreload() *Preload {
	return NewPreload().
		Put("dc=com", domainEntry("com")...).
		Put("dc=example,dc=com", domainEntry("example")...)
}

func expectPortClosed(port int32) {
	GinkgoHelper()
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), time.Second)
	if err == nil {
		_ = conn.Close()
	}
	Expect(err).To(HaveOccurred(), "port %d should not accept connections", port)
}

var _ = Describe("Manager", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Context("Without metadata", func() {
		It("Should fail with a configuration error before opening a port", func() {
			m := NewManager()
			bodyRan := false

			err := m.Apply(ctx, StaticUnit{Name: "TestWithoutMetadata", Executable: true}, func(context.Context) error {
				bodyRan = true
				return nil
			})

			var cfgErr *ConfigurationError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
			Expect(err).To(MatchError(ErrMissingMetadata))
			Expect(bodyRan).To(BeFalse())
			Expect(m.State()).To(Equal(StateIdle))
			Expect(m.Server()).To(BeNil())
			Expect(m.Port()).To(BeZero())
			Expect(m.Address()).To(BeEmpty())
		})
	})

	Context("Sequential use of one port", func() {
		It("Should start and stop two managers on the same port without leaking goroutines", func() {
			ignore := goleak.IgnoreCurrent()

			for i := 0; i < 2; i++ {
				m := NewManager(WithPreload(standardPreload()))
				err := m.Apply(ctx, unitOnPort(sequentialPort), func(context.Context) error {
					Expect(m.State()).To(Equal(StateRunning))
					Expect(m.Port()).To(Equal(int(sequentialPort)))

					conn, err := ldap.DialURL("ldap://" + m.Address())
					Expect(err).NotTo(HaveOccurred())
					defer conn.Close()
					return conn.Bind(v1.DefaultBindableDN, v1.DefaultPassword)
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(m.State()).To(Equal(StateIdle))
				expectPortClosed(sequentialPort)
			}

			Expect(goleak.Find(ignore)).To(Succeed())
		})
	})

	Context("Preload", func() {
		It("Should insert entries in declaration order", func() {
			m := NewManager(WithPreload(standardPreload()))
			err := m.Apply(ctx, unitOnPort(preloadPort), func(context.Context) error {
				Expect(m.Server().EntryCount()).To(Equal(2))
				Expect(m.Server().Get("dc=example,dc=com")).NotTo(BeNil())
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("Should fail with a directory write failure when a parent comes after its child", func() {
			reversed := NewPreload().
				Put("dc=example,dc=com", domainEntry("example")...).
				Put("dc=com", domainEntry("com")...)
			m := NewManager(WithPreload(reversed))
			bodyRan := false

			err := m.Apply(ctx, unitOnPort(preloadPort), func(context.Context) error {
				bodyRan = true
				return nil
			})

			var startErr *StartError
			Expect(errors.As(err, &startErr)).To(BeTrue())
			Expect(startErr.Stage).To(Equal(StagePreload))
			Expect(startErr.DN).To(Equal("dc=example,dc=com"))
			Expect(IsDirectoryWriteFailure(err)).To(BeTrue())
			Expect(ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject)).To(BeTrue())

			Expect(bodyRan).To(BeFalse())
			Expect(m.State()).To(Equal(StateIdle))
			expectPortClosed(preloadPort)
		})

		It("Should keep entries committed before a failing entry until teardown", func() {
			partial := NewPreload().
				Put("dc=com", domainEntry("com")...).
				Put("ou=people,ou=missing,dc=com", ldap.Attribute{Type: "ou", Vals: []string{"people"}})
			m := NewManager(WithPreload(partial))

			err := m.Start(ctx, unitOnPort(0))
			Expect(err).To(HaveOccurred())
			Expect(m.State()).To(Equal(StateStarting))
			Expect(m.Server()).NotTo(BeNil())
			Expect(m.Server().Get("dc=com")).NotTo(BeNil())
			Expect(m.Add("dc=example,dc=com", domainEntry("example")...)).To(MatchError(ErrIllegalState))

			m.Stop(ctx)
			Expect(m.State()).To(Equal(StateIdle))
			Expect(m.Server()).To(BeNil())
		})

		It("Should not be affected by changes to the preload after construction", func() {
			p := standardPreload()
			m := NewManager(WithPreload(p))
			p.Put("uid=late,dc=example,dc=com", ldap.Attribute{Type: "uid", Vals: []string{"late"}})

			Expect(m.Apply(ctx, unitOnPort(0), func(context.Context) error {
				Expect(m.Server().EntryCount()).To(Equal(2))
				return nil
			})).To(Succeed())
		})
	})

	Context("Failing bodies", func() {
		It("Should tear down and report the assertion failure", func() {
			m := NewManager()
			var failure error

			err := m.Apply(ctx, unitOnPort(failingPort), func(context.Context) error {
				failure = InterceptGomegaFailure(func() {
					Expect("actual").To(Equal("expected"))
				})
				return failure
			})

			Expect(failure).To(HaveOccurred())
			Expect(err).To(BeIdenticalTo(failure))
			Expect(m.State()).To(Equal(StateIdle))
			expectPortClosed(failingPort)
		})

		It("Should tear down when the body panics", func() {
			m := NewManager()

			Expect(func() {
				_ = m.Apply(ctx, unitOnPort(failingPort), func(context.Context) error {
					panic("boom")
				})
			}).To(PanicWith("boom"))

			Expect(m.State()).To(Equal(StateIdle))
			expectPortClosed(failingPort)
		})
	})

	Context("Stop", func() {
		It("Should be idempotent", func() {
			m := NewManager()
			m.Stop(ctx)
			Expect(m.State()).To(Equal(StateIdle))

			Expect(m.Start(ctx, unitOnPort(idempotentPort))).To(Succeed())
			m.Stop(ctx)
			m.Stop(ctx)
			Expect(m.State()).To(Equal(StateIdle))
			Expect(m.Port()).To(Equal(0))
			expectPortClosed(idempotentPort)
		})

		It("Should allow the manager to be started again", func() {
			m := NewManager(WithPreload(standardPreload()))
			for i := 0; i < 2; i++ {
				Expect(m.Start(ctx, unitOnPort(0))).To(Succeed())
				Expect(m.Server().EntryCount()).To(Equal(2))
				m.Stop(ctx)
			}
		})
	})

	Context("Add", func() {
		It("Should refuse writes outside the running state", func() {
			m := NewManager()
			Expect(m.Add("dc=com", domainEntry("com")...)).To(MatchError(ErrIllegalState))

			Expect(m.Start(ctx, unitOnPort(0))).To(Succeed())
			m.Stop(ctx)
			Expect(m.Add("dc=com", domainEntry("com")...)).To(MatchError(ErrIllegalState))
		})

		It("Should pass directory results through unchanged", func() {
			m := NewManager(WithPreload(standardPreload()))
			Expect(m.Apply(ctx, unitOnPort(0), func(context.Context) error {
				Expect(m.Add("ou=people,dc=example,dc=com", ldap.Attribute{Type: "ou", Vals: []string{"people"}})).To(Succeed())

				err := m.Add("dc=example,dc=com", domainEntry("example")...)
				Expect(ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists)).To(BeTrue())

				err = m.Add("uid=x,ou=missing,dc=example,dc=com", ldap.Attribute{Type: "uid", Vals: []string{"x"}})
				Expect(ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject)).To(BeTrue())

				err = m.Add("not a dn")
				Expect(ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidDNSyntax)).To(BeTrue())
				return nil
			})).To(Succeed())
		})
	})

	Context("Lifecycle guards", func() {
		It("Should refuse to start twice and leave the running fixture alone", func() {
			m := NewManager()
			Expect(m.Start(ctx, unitOnPort(0))).To(Succeed())
			DeferCleanup(func() { m.Stop(ctx) })

			Expect(m.Start(ctx, unitOnPort(0))).To(MatchError(ErrIllegalState))
			Expect(m.Apply(ctx, unitOnPort(0), func(context.Context) error {
				Fail("body must not run")
				return nil
			})).To(MatchError(ErrIllegalState))
			Expect(m.State()).To(Equal(StateRunning))
		})

		It("Should report a listen failure and release on stop", func() {
			occupied, err := net.Listen("tcp", "localhost:0")
			Expect(err).NotTo(HaveOccurred())
			defer occupied.Close()
			port := int32(occupied.Addr().(*net.TCPAddr).Port)

			m := NewManager()
			err = m.Apply(ctx, unitOnPort(port), func(context.Context) error {
				Fail("body must not run")
				return nil
			})

			var startErr *StartError
			Expect(errors.As(err, &startErr)).To(BeTrue())
			Expect(startErr.Stage).To(Equal(StageListen))
			Expect(m.State()).To(Equal(StateIdle))
		})
	})

	Context("Connection details", func() {
		It("Should describe how to reach a dynamically bound fixture", func() {
			m := NewManager(WithPreload(standardPreload()))
			Expect(m.Apply(ctx, unitOnPort(0), func(context.Context) error {
				Expect(m.Port()).To(BeNumerically(">", 0))

				spec := m.ConnectionSpec()
				Expect(spec.Host).To(Equal(v1.DefaultListenerAddress))
				Expect(int(spec.Port)).To(Equal(m.Port()))
				Expect(spec.BindDN).To(Equal(v1.DefaultBindableDN))
				Expect(spec.BaseDN).To(Equal(v1.DefaultBaseDN))
				Expect(m.BindPassword()).To(Equal(v1.DefaultPassword))
				Expect(m.Spec().Name).To(Equal(v1.DefaultListenerName))

				conn, err := ldap.DialURL(fmt.Sprintf("ldap://%s:%d", spec.Host, spec.Port))
				Expect(err).NotTo(HaveOccurred())
				defer conn.Close()
				return conn.Bind(spec.BindDN, m.BindPassword())
			})).To(Succeed())
		})
	})

	Context("SetupSpec", func() {
		var m *Manager

		BeforeEach(func(ctx SpecContext) {
			m = SetupSpec(ctx, unitOnPort(0), WithPreload(standardPreload()))
		})

		It("Should provide a running fixture to the spec", func() {
			Expect(m.State()).To(Equal(StateRunning))
			Expect(m.Server().Get("dc=com")).NotTo(BeNil())
		})
	})
})
