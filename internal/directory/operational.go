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

package directory

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Operational attributes maintained by the server.
const (
	AttrCreateTimestamp = "createTimestamp"
	AttrModifyTimestamp = "modifyTimestamp"
	AttrCreatorsName    = "creatorsName"
	AttrModifiersName   = "modifiersName"
	AttrEntryDN         = "entryDN"
	AttrEntryUUID       = "entryUUID"
)

// internalRootDN is recorded as creator of entries added through Server.Add.
const internalRootDN = "cn=Internal Root User"

// generalizedTime is the LDAP GeneralizedTime layout in UTC.
const generalizedTime = "20060102150405Z"

var operationalNames = []string{
	AttrCreateTimestamp,
	AttrModifyTimestamp,
	AttrCreatorsName,
	AttrModifiersName,
	AttrEntryDN,
	AttrEntryUUID,
}

func isOperational(name string) bool {
	name = baseName(name)
	for _, op := range operationalNames {
		if strings.EqualFold(op, name) {
			return true
		}
	}
	return false
}

// stampCreated sets the operational attributes of a new entry.
func stampCreated(e *entry, bindDN string, now time.Time) {
	ts := now.UTC().Format(generalizedTime)
	e.setOperational(AttrEntryUUID, uuid.NewString())
	e.setOperational(AttrCreateTimestamp, ts)
	e.setOperational(AttrCreatorsName, bindDN)
	stampModified(e, bindDN, now)
}

// stampModified sets the modification attributes of an entry.
func stampModified(e *entry, bindDN string, now time.Time) {
	e.setOperational(AttrModifyTimestamp, now.UTC().Format(generalizedTime))
	e.setOperational(AttrModifiersName, bindDN)
	e.setOperational(AttrEntryDN, e.dn)
}
