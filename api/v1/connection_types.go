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

// ConnectionSpec describes how a client reaches a running fixture
type ConnectionSpec struct {
	// Host is the hostname or IP address of the fixture listener
	Host string `json:"host"`

	// Port is the port number of the fixture listener
	Port int32 `json:"port,omitempty"`

	// BindDN is the distinguished name used to bind. An empty BindDN keeps
	// the connection anonymous.
	BindDN string `json:"bindDN,omitempty"`

	// BaseDN is the base distinguished name for LDAP operations
	BaseDN string `json:"baseDN"`

	// TLS configuration for secure connections
	TLS *TLSConfig `json:"tls,omitempty"`

	// ConnectionTimeout in seconds (default: 30)
	// +kubebuilder:default:=30
	ConnectionTimeout int32 `json:"connectionTimeout,omitempty"`
}

// TLSConfig contains TLS-specific configuration
type TLSConfig struct {
	// Enabled indicates whether to use TLS/SSL
	Enabled bool `json:"enabled"`

	// InsecureSkipVerify controls whether the client verifies the server's certificate
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty"`
}
