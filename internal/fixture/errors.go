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

// Package fixture manages the lifecycle of in-memory LDAP directories used as
// test fixtures.
//
// A Manager resolves the fixture metadata declared for a test, starts a
// directory server configured from it, preloads fixture data and guarantees
// that the server is shut down again whatever the outcome of the test.
package fixture

import (
	"errors"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

var (
	// ErrMissingMetadata is wrapped by a ConfigurationError when neither the
	// test nor its suite declares fixture metadata
	ErrMissingMetadata = errors.New("missing required fixture metadata")

	// ErrIllegalState is returned when an operation is not valid in the
	// current lifecycle state
	ErrIllegalState = errors.New("fixture: operation not allowed in the current state")
)

// Start stages reported by StartError
const (
	StageConfigure = "configure"
	StageListen    = "listen"
	StagePreload   = "preload"
)

// ConfigurationError reports missing or invalid fixture metadata. It is always
// returned before any resource is allocated.
type ConfigurationError struct {
	Unit string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.Unit == "" {
		return fmt.Sprintf("invalid fixture configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid fixture configuration for %s: %v", e.Unit, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// StartError reports a failure while the fixture was starting. DN is set for
// preload failures.
type StartError struct {
	Stage string
	DN    string
	Err   error
}

func (e *StartError) Error() string {
	if e.DN != "" {
		return fmt.Sprintf("failed to start fixture: %s of %q: %v", e.Stage, e.DN, e.Err)
	}
	return fmt.Sprintf("failed to start fixture: %s: %v", e.Stage, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// IsDirectoryWriteFailure reports whether err carries an LDAP result returned
// by the directory for a rejected write.
func IsDirectoryWriteFailure(err error) bool {
	var lerr *ldap.Error
	return errors.As(err, &lerr)
}
