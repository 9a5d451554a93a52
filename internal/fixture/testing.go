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
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// DescribeTest describes a Go test. The top level test function is the suite,
// the full test name including subtests is the test.
func DescribeTest(t testing.TB) Description {
	name := t.Name()
	suite, _, _ := strings.Cut(name, "/")
	return Description{Suite: suite, Name: name}
}

// DescribeSpec describes the running Ginkgo spec. The outermost container is
// the suite, the remaining container texts and the spec text form the test.
func DescribeSpec() Description {
	report := CurrentSpecReport()
	texts := append(append([]string(nil), report.ContainerHierarchyTexts...), report.LeafNodeText)
	if len(texts) == 1 {
		return Description{Name: texts[0]}
	}
	return Description{Suite: texts[0], Name: strings.Join(texts[1:], " ")}
}

// ForTest returns the unit registered for the Go test t.
func (r *Registry) ForTest(t testing.TB) Unit {
	return r.Unit(DescribeTest(t))
}

// ForSpec returns the unit registered for the running Ginkgo spec.
func (r *Registry) ForSpec() Unit {
	return r.Unit(DescribeSpec())
}

// Setup starts a fixture for unit and stops it when t and its subtests
// complete. Teardown is registered before the fixture starts, so a partial
// start is released as well. A start failure fails the test.
func Setup(t testing.TB, unit Unit, opts ...Option) *Manager {
	t.Helper()

	m := NewManager(opts...)
	ctx := context.Background()
	t.Cleanup(func() {
		m.Stop(ctx)
	})

	if err := m.Start(ctx, unit); err != nil {
		t.Fatalf("failed to start LDAP fixture: %v", err)
	}
	return m
}

// SetupSpec starts a fixture for unit inside a Ginkgo setup node and stops it
// through DeferCleanup when the spec completes.
func SetupSpec(ctx context.Context, unit Unit, opts ...Option) *Manager {
	GinkgoHelper()

	By("Starting in-memory LDAP fixture")
	m := NewManager(opts...)
	DeferCleanup(func() {
		By("Stopping in-memory LDAP fixture")
		m.Stop(ctx)
	})

	Expect(m.Start(ctx, unit)).To(Succeed())
	return m
}
