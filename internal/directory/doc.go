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

// Package directory implements a small in-memory LDAPv3 directory server for
// tests.
//
// A Server is configured through a Config that names the naming contexts it
// serves, the credentials that may bind, and the listeners it opens. Entries
// live in memory only and disappear when the server is shut down. The server
// speaks enough of the protocol for ordinary clients such as go-ldap: bind,
// unbind, search, add, delete, modify and compare.
//
// Every failed write is reported as a *ldap.Error from github.com/go-ldap/ldap/v3
// carrying the LDAP result code, both to network clients and to callers of
// Server.Add.
package directory
