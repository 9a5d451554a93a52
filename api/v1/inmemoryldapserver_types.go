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

package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// DefaultBaseDN is the naming context used when none is declared
	DefaultBaseDN = "dc=com"
	// DefaultBindableDN is the DN of the default bind criteria
	DefaultBindableDN = "uid=admin,dc=example,dc=com"
	// DefaultPassword is the password of the default bind criteria
	DefaultPassword = "password"
	// DefaultListenerName is the name of the fixture listener
	DefaultListenerName = "test"
	// DefaultListenerAddress is the address the fixture listener binds to
	DefaultListenerAddress = "localhost"
	// DefaultPort is the port the fixture listener binds to
	DefaultPort int32 = 38900

	// TestAnnotation scopes a manifest to a single test instead of its whole suite
	TestAnnotation = "ldaptest.guided-traffic.com/test"
)

// InMemoryLDAPServerSpec declares how the in-memory directory for a test is configured.
// Unset fields are filled in by SetDefaults.
type InMemoryLDAPServerSpec struct {
	// BaseDNs are the naming contexts served by the fixture, in declaration order
	// +kubebuilder:default:={"dc=com"}
	BaseDNs []string `json:"baseDNs,omitempty"`

	// BindCriteria are the credentials allowed to bind to the fixture
	BindCriteria []BindCriteria `json:"bindCriteria,omitempty"`

	// Name is the name of the fixture listener (default: test)
	// +kubebuilder:default:="test"
	Name string `json:"name,omitempty"`

	// Address is the host the listener binds to (default: localhost)
	Address string `json:"address,omitempty"`

	// Port is the listener port (default: 38900). An explicit 0 lets the
	// operating system pick a free port.
	// +kubebuilder:default:=38900
	Port *int32 `json:"port,omitempty"`
}

// BindCriteria is a DN and password pair authorized to bind to the fixture
type BindCriteria struct {
	// BindableDN is the distinguished name allowed to bind
	// +kubebuilder:default:="uid=admin,dc=example,dc=com"
	BindableDN string `json:"bindableDN,omitempty"`

	// Password is the password for BindableDN
	// +kubebuilder:default:="password"
	Password string `json:"password,omitempty"`
}

//+kubebuilder:object:root=true

// InMemoryLDAPServer attaches fixture metadata to a test suite, or to a single
// test when the TestAnnotation is set
type InMemoryLDAPServer struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec InMemoryLDAPServerSpec `json:"spec,omitempty"`
}

//+kubebuilder:object:root=true

// InMemoryLDAPServerList contains a list of InMemoryLDAPServer
type InMemoryLDAPServerList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []InMemoryLDAPServer `json:"items"`
}

// Suite returns the name of the test suite the metadata is attached to
func (s *InMemoryLDAPServer) Suite() string {
	return s.Name
}

// Test returns the name of the test the metadata is attached to, or an empty
// string for suite level metadata
func (s *InMemoryLDAPServer) Test() string {
	return s.Annotations[TestAnnotation]
}

// ListenPort returns the declared port, or DefaultPort when none is set
func (s *InMemoryLDAPServerSpec) ListenPort() int32 {
	if s.Port == nil {
		return DefaultPort
	}
	return *s.Port
}

func init() {
	SchemeBuilder.Register(&InMemoryLDAPServer{}, &InMemoryLDAPServerList{})
}
