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

	"github.com/go-ldap/ldap/v3"
)

// ObjectClass describes an object class known to a Schema.
type ObjectClass struct {
	Name string
	Sup  string
	Must []string
	May  []string
}

// AttributeType describes an attribute type known to a Schema. The first name
// is canonical, the rest are aliases.
type AttributeType struct {
	Names []string
}

// Schema is the set of object classes and attribute types entries are
// validated against.
type Schema struct {
	classes    map[string]ObjectClass
	attributes map[string]string
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{
		classes:    make(map[string]ObjectClass),
		attributes: make(map[string]string),
	}
}

// AddAttributeType registers an attribute type and its aliases.
func (s *Schema) AddAttributeType(at AttributeType) {
	if len(at.Names) == 0 {
		return
	}
	canonical := strings.ToLower(at.Names[0])
	for _, name := range at.Names {
		s.attributes[strings.ToLower(name)] = canonical
	}
}

// AddObjectClass registers an object class.
func (s *Schema) AddObjectClass(oc ObjectClass) {
	s.classes[strings.ToLower(oc.Name)] = oc
}

// DefaultSchema returns a schema with the core RFC 4512, RFC 4519 and
// RFC 2798 definitions.
func DefaultSchema() *Schema {
	s := NewSchema()
	for _, at := range defaultAttributeTypes {
		s.AddAttributeType(at)
	}
	for _, oc := range defaultObjectClasses {
		s.AddObjectClass(oc)
	}
	return s
}

// validate checks e against the schema.
func (s *Schema) validate(e *entry) error {
	classes := e.attribute("objectClass")
	if classes == nil {
		return newError(ldap.LDAPResultObjectClassViolation, "", "entry %q has no objectClass attribute", e.dn)
	}

	must := make(map[string]bool)
	may := make(map[string]bool)
	extensible := false
	for _, name := range classes.values {
		if strings.EqualFold(name, "extensibleObject") {
			extensible = true
			continue
		}
		if err := s.collect(name, must, may); err != nil {
			return err
		}
	}

	for _, a := range e.attributes {
		canonical, ok := s.attributes[strings.ToLower(baseName(a.name))]
		if !ok {
			return newError(ldap.LDAPResultUndefinedAttributeType, "", "attribute %q is not defined in the schema", a.name)
		}
		if !extensible && !must[canonical] && !may[canonical] {
			return newError(ldap.LDAPResultObjectClassViolation, "", "attribute %q is not allowed by the object classes of entry %q", a.name, e.dn)
		}
	}

	for name := range must {
		present := false
		for _, a := range e.attributes {
			if s.attributes[strings.ToLower(baseName(a.name))] == name {
				present = true
				break
			}
		}
		if !present {
			return newError(ldap.LDAPResultObjectClassViolation, "", "entry %q is missing required attribute %q", e.dn, name)
		}
	}
	return nil
}

// collect adds the MUST and MAY attributes of a class and its superclasses.
func (s *Schema) collect(name string, must, may map[string]bool) error {
	for name != "" {
		oc, ok := s.classes[strings.ToLower(name)]
		if !ok {
			return newError(ldap.LDAPResultObjectClassViolation, "", "object class %q is not defined in the schema", name)
		}
		for _, attr := range oc.Must {
			must[s.canonical(attr)] = true
		}
		for _, attr := range oc.May {
			may[s.canonical(attr)] = true
		}
		name = oc.Sup
	}
	return nil
}

func (s *Schema) canonical(name string) string {
	if c, ok := s.attributes[strings.ToLower(name)]; ok {
		return c
	}
	return strings.ToLower(name)
}

var defaultAttributeTypes = []AttributeType{
	{Names: []string{"objectClass"}},
	{Names: []string{"aliasedObjectName", "aliasedEntryName"}},
	{Names: []string{"cn", "commonName"}},
	{Names: []string{"sn", "surname"}},
	{Names: []string{"serialNumber"}},
	{Names: []string{"c", "countryName"}},
	{Names: []string{"l", "localityName"}},
	{Names: []string{"st", "stateOrProvinceName"}},
	{Names: []string{"street", "streetAddress"}},
	{Names: []string{"o", "organizationName"}},
	{Names: []string{"ou", "organizationalUnitName"}},
	{Names: []string{"title"}},
	{Names: []string{"description"}},
	{Names: []string{"businessCategory"}},
	{Names: []string{"postalAddress"}},
	{Names: []string{"postalCode"}},
	{Names: []string{"postOfficeBox"}},
	{Names: []string{"telephoneNumber"}},
	{Names: []string{"facsimileTelephoneNumber"}},
	{Names: []string{"seeAlso"}},
	{Names: []string{"member"}},
	{Names: []string{"owner"}},
	{Names: []string{"roleOccupant"}},
	{Names: []string{"uniqueMember"}},
	{Names: []string{"userPassword"}},
	{Names: []string{"name"}},
	{Names: []string{"givenName", "gn"}},
	{Names: []string{"initials"}},
	{Names: []string{"displayName"}},
	{Names: []string{"employeeNumber"}},
	{Names: []string{"employeeType"}},
	{Names: []string{"departmentNumber"}},
	{Names: []string{"manager"}},
	{Names: []string{"mobile"}},
	{Names: []string{"homePhone"}},
	{Names: []string{"roomNumber"}},
	{Names: []string{"preferredLanguage"}},
	{Names: []string{"labeledURI"}},
	{Names: []string{"jpegPhoto"}},
	{Names: []string{"dc", "domainComponent"}},
	{Names: []string{"uid", "userid"}},
	{Names: []string{"mail", "rfc822Mailbox"}},
	{Names: []string{"host"}},
	{Names: []string{"uidNumber"}},
	{Names: []string{"gidNumber"}},
	{Names: []string{"homeDirectory"}},
	{Names: []string{"loginShell"}},
	{Names: []string{"gecos"}},
	{Names: []string{"memberUid"}},
	{Names: []string{"associatedDomain"}},
}

var defaultObjectClasses = []ObjectClass{
	{Name: "top", Must: []string{"objectClass"}},
	{Name: "alias", Sup: "top", Must: []string{"aliasedObjectName"}},
	{Name: "country", Sup: "top", Must: []string{"c"}, May: []string{"description"}},
	{Name: "locality", Sup: "top", May: []string{"street", "seeAlso", "st", "l", "description"}},
	{Name: "organization", Sup: "top", Must: []string{"o"}, May: []string{
		"userPassword", "seeAlso", "businessCategory", "telephoneNumber", "facsimileTelephoneNumber",
		"street", "postOfficeBox", "postalCode", "postalAddress", "st", "l", "description",
	}},
	{Name: "organizationalUnit", Sup: "top", Must: []string{"ou"}, May: []string{
		"userPassword", "seeAlso", "businessCategory", "telephoneNumber", "facsimileTelephoneNumber",
		"street", "postOfficeBox", "postalCode", "postalAddress", "st", "l", "description",
	}},
	{Name: "person", Sup: "top", Must: []string{"sn", "cn"}, May: []string{"userPassword", "telephoneNumber", "seeAlso", "description"}},
	{Name: "organizationalPerson", Sup: "person", May: []string{
		"title", "telephoneNumber", "facsimileTelephoneNumber", "street", "postOfficeBox",
		"postalCode", "postalAddress", "ou", "st", "l",
	}},
	{Name: "inetOrgPerson", Sup: "organizationalPerson", May: []string{
		"businessCategory", "departmentNumber", "displayName", "employeeNumber", "employeeType",
		"givenName", "homePhone", "initials", "jpegPhoto", "labeledURI", "mail", "manager",
		"mobile", "o", "roomNumber", "uid", "preferredLanguage",
	}},
	{Name: "organizationalRole", Sup: "top", Must: []string{"cn"}, May: []string{
		"telephoneNumber", "seeAlso", "roleOccupant", "street", "ou", "st", "l", "description",
	}},
	{Name: "groupOfNames", Sup: "top", Must: []string{"member", "cn"}, May: []string{"businessCategory", "seeAlso", "owner", "ou", "o", "description"}},
	{Name: "groupOfUniqueNames", Sup: "top", Must: []string{"uniqueMember", "cn"}, May: []string{"businessCategory", "seeAlso", "owner", "ou", "o", "description"}},
	{Name: "domain", Sup: "top", Must: []string{"dc"}, May: []string{
		"userPassword", "seeAlso", "businessCategory", "telephoneNumber", "facsimileTelephoneNumber",
		"street", "postOfficeBox", "postalCode", "postalAddress", "st", "l", "description", "o", "associatedDomain",
	}},
	{Name: "dcObject", Sup: "top", Must: []string{"dc"}},
	{Name: "simpleSecurityObject", Sup: "top", Must: []string{"userPassword"}},
	{Name: "account", Sup: "top", Must: []string{"uid"}, May: []string{"description", "seeAlso", "l", "o", "ou", "host"}},
	{Name: "posixAccount", Sup: "top", Must: []string{"cn", "uid", "uidNumber", "gidNumber", "homeDirectory"}, May: []string{"userPassword", "loginShell", "gecos", "description"}},
	{Name: "posixGroup", Sup: "top", Must: []string{"cn", "gidNumber"}, May: []string{"userPassword", "memberUid", "description"}},
}
