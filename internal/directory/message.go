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
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// protocolError builds a protocolError result.
func protocolError(format string, args ...any) *ldap.Error {
	return newError(ldap.LDAPResultProtocolError, "", format, args...)
}

// message wraps a protocol op into an LDAPMessage envelope.
func message(messageID int64, op *ber.Packet) *ber.Packet {
	p := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAP Response")
	p.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, messageID, "MessageID"))
	p.AppendChild(op)
	return p
}

// result builds an LDAPResult for the given response application tag.
func result(tag int, code uint16, matchedDN, diagnostic string) *ber.Packet {
	p := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ber.Tag(tag), nil, ldap.ApplicationMap[uint8(tag)])
	p.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(code), "resultCode"))
	p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, matchedDN, "matchedDN"))
	p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, diagnostic, "diagnosticMessage"))
	return p
}

// resultFromError builds an LDAPResult from err, success when err is nil.
func resultFromError(tag int, err error) *ber.Packet {
	code, matchedDN, diagnostic := resultOf(err)
	return result(tag, code, matchedDN, diagnostic)
}

// searchEntry builds a SearchResultEntry.
func searchEntry(e *ldap.Entry, typesOnly bool) *ber.Packet {
	p := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ldap.ApplicationSearchResultEntry, nil, "Search Result Entry")
	p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, e.DN, "objectName"))

	attrs := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "attributes")
	for _, a := range e.Attributes {
		attr := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "PartialAttribute")
		attr.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, a.Name, "type"))
		vals := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSet, nil, "vals")
		if !typesOnly {
			for _, v := range a.Values {
				vals.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, v, "value"))
			}
		}
		attr.AppendChild(vals)
		attrs.AppendChild(attr)
	}
	p.AppendChild(attrs)
	return p
}

// extendedResponse builds an ExtendedResponse carrying only an LDAPResult.
func extendedResponse(code uint16, diagnostic string) *ber.Packet {
	return result(ldap.ApplicationExtendedResponse, code, "", diagnostic)
}

func child(p *ber.Packet, i int) (*ber.Packet, error) {
	if p == nil || i >= len(p.Children) {
		return nil, protocolError("missing element %d of %s", i, describe(p))
	}
	return p.Children[i], nil
}

func stringAt(p *ber.Packet, i int) (string, error) {
	c, err := child(p, i)
	if err != nil {
		return "", err
	}
	return c.Data.String(), nil
}

func intAt(p *ber.Packet, i int) (int64, error) {
	c, err := child(p, i)
	if err != nil {
		return 0, err
	}
	v, ok := c.Value.(int64)
	if !ok {
		return 0, protocolError("element %d of %s is not an integer", i, describe(p))
	}
	return v, nil
}

func boolAt(p *ber.Packet, i int) (bool, error) {
	c, err := child(p, i)
	if err != nil {
		return false, err
	}
	v, ok := c.Value.(bool)
	if !ok {
		return false, protocolError("element %d of %s is not a boolean", i, describe(p))
	}
	return v, nil
}

// attributesAt decodes a sequence of {type, SET OF value} at index i.
func attributesAt(p *ber.Packet, i int) ([]ldap.Attribute, error) {
	list, err := child(p, i)
	if err != nil {
		return nil, err
	}
	attrs := make([]ldap.Attribute, 0, len(list.Children))
	for _, item := range list.Children {
		attr, err := attributeOf(item)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

func attributeOf(p *ber.Packet) (ldap.Attribute, error) {
	name, err := stringAt(p, 0)
	if err != nil {
		return ldap.Attribute{}, err
	}
	set, err := child(p, 1)
	if err != nil {
		return ldap.Attribute{}, err
	}
	attr := ldap.Attribute{Type: name, Vals: make([]string, 0, len(set.Children))}
	for _, v := range set.Children {
		attr.Vals = append(attr.Vals, v.Data.String())
	}
	return attr, nil
}

func describe(p *ber.Packet) string {
	if p == nil {
		return "<nil>"
	}
	if p.ClassType == ber.ClassApplication {
		if name, ok := ldap.ApplicationMap[uint8(p.Tag)]; ok {
			return name
		}
	}
	return fmt.Sprintf("tag %d", p.Tag)
}
