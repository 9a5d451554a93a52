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
	"errors"
	"io"
	"net"
	"sync"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// connection is one client connection.
type connection struct {
	server *Server
	conn   net.Conn
	log    logr.Logger

	// bindDN is only touched by the serve goroutine
	bindDN string

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConnection(s *Server, nc net.Conn) *connection {
	return &connection{
		server: s,
		conn:   nc,
		log:    s.log.WithValues("connection", uuid.NewString(), "client", nc.RemoteAddr().String()),
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// serve reads requests until the client unbinds or the connection fails.
func (c *connection) serve() {
	defer c.close()
	c.log.V(1).Info("Connection opened")
	defer c.log.V(1).Info("Connection closed")

	for {
		packet, err := ber.ReadPacket(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, net.ErrClosed) {
				c.log.V(1).Info("Failed to read request", "error", err.Error())
			}
			return
		}
		if !c.handle(packet) {
			return
		}
	}
}

// handle processes one LDAPMessage and reports whether the connection stays
// open.
func (c *connection) handle(packet *ber.Packet) bool {
	messageID, err := intAt(packet, 0)
	if err != nil {
		c.log.Info("Dropping connection after malformed message", "error", err.Error())
		return false
	}
	op, err := child(packet, 1)
	if err != nil || op.ClassType != ber.ClassApplication {
		c.log.Info("Dropping connection after malformed message", "messageID", messageID)
		return false
	}

	log := c.log.WithValues("messageID", messageID, "operation", describe(op))
	log.V(1).Info("Request received")

	var response *ber.Packet
	switch op.Tag {
	case ldap.ApplicationUnbindRequest:
		return false
	case ldap.ApplicationAbandonRequest:
		return true
	case ldap.ApplicationBindRequest:
		response = c.bind(op)
	case ldap.ApplicationSearchRequest:
		return c.search(messageID, op)
	case ldap.ApplicationAddRequest:
		response = resultFromError(ldap.ApplicationAddResponse, c.add(op))
	case ldap.ApplicationDelRequest:
		response = resultFromError(ldap.ApplicationDelResponse, c.server.Delete(op.Data.String()))
	case ldap.ApplicationModifyRequest:
		response = resultFromError(ldap.ApplicationModifyResponse, c.modify(op))
	case ldap.ApplicationCompareRequest:
		response = c.compare(op)
	case ldap.ApplicationModifyDNRequest:
		response = result(ldap.ApplicationModifyDNResponse, ldap.LDAPResultUnwillingToPerform, "", "modify DN is not supported")
	case ldap.ApplicationExtendedRequest:
		response = extendedResponse(ldap.LDAPResultProtocolError, "extended operations are not supported")
	default:
		log.Info("Dropping connection after unsupported operation")
		return false
	}

	return c.write(messageID, response)
}

func (c *connection) write(messageID int64, op *ber.Packet) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.conn.Write(message(messageID, op).Bytes()); err != nil {
		c.log.V(1).Info("Failed to write response", "error", err.Error())
		return false
	}
	return true
}

func (c *connection) bind(op *ber.Packet) *ber.Packet {
	version, err := intAt(op, 0)
	if err != nil {
		return resultFromError(ldap.ApplicationBindResponse, err)
	}
	if version != 3 {
		return result(ldap.ApplicationBindResponse, ldap.LDAPResultProtocolError, "", "only LDAP version 3 is supported")
	}
	name, err := stringAt(op, 1)
	if err != nil {
		return resultFromError(ldap.ApplicationBindResponse, err)
	}
	auth, err := child(op, 2)
	if err != nil {
		return resultFromError(ldap.ApplicationBindResponse, err)
	}
	if auth.ClassType != ber.ClassContext || auth.Tag != 0 {
		return result(ldap.ApplicationBindResponse, ldap.LDAPResultAuthMethodNotSupported, "", "only simple authentication is supported")
	}

	c.bindDN = ""
	if err := c.server.authenticate(name, auth.Data.String()); err != nil {
		c.log.V(1).Info("Bind failed", "bindDN", name)
		return resultFromError(ldap.ApplicationBindResponse, err)
	}
	c.bindDN = name
	return result(ldap.ApplicationBindResponse, ldap.LDAPResultSuccess, "", "")
}

func (c *connection) add(op *ber.Packet) error {
	dn, err := stringAt(op, 0)
	if err != nil {
		return err
	}
	attrs, err := attributesAt(op, 1)
	if err != nil {
		return err
	}
	return c.server.add(dn, attrs, c.bindDN)
}

func (c *connection) modify(op *ber.Packet) error {
	dn, err := stringAt(op, 0)
	if err != nil {
		return err
	}
	changes, err := child(op, 1)
	if err != nil {
		return err
	}

	mods := make([]modification, 0, len(changes.Children))
	for _, change := range changes.Children {
		kind, err := intAt(change, 0)
		if err != nil {
			return err
		}
		item, err := child(change, 1)
		if err != nil {
			return err
		}
		attr, err := attributeOf(item)
		if err != nil {
			return err
		}
		mods = append(mods, modification{op: kind, attr: attr})
	}
	return c.server.modify(dn, mods, c.bindDN)
}

func (c *connection) compare(op *ber.Packet) *ber.Packet {
	dn, err := stringAt(op, 0)
	if err != nil {
		return resultFromError(ldap.ApplicationCompareResponse, err)
	}
	ava, err := child(op, 1)
	if err != nil {
		return resultFromError(ldap.ApplicationCompareResponse, err)
	}
	name, err := stringAt(ava, 0)
	if err != nil {
		return resultFromError(ldap.ApplicationCompareResponse, err)
	}
	value, err := stringAt(ava, 1)
	if err != nil {
		return resultFromError(ldap.ApplicationCompareResponse, err)
	}

	ok, err := c.server.compare(dn, name, value)
	if err != nil {
		return resultFromError(ldap.ApplicationCompareResponse, err)
	}
	if ok {
		return result(ldap.ApplicationCompareResponse, ldap.LDAPResultCompareTrue, "", "")
	}
	return result(ldap.ApplicationCompareResponse, ldap.LDAPResultCompareFalse, "", "")
}

func (c *connection) search(messageID int64, op *ber.Packet) bool {
	req, err := decodeSearch(op)
	if err != nil {
		return c.write(messageID, resultFromError(ldap.ApplicationSearchResultDone, err))
	}

	err = c.server.search(req, func(e *ldap.Entry) bool {
		return c.write(messageID, searchEntry(e, req.typesOnly))
	})
	return c.write(messageID, resultFromError(ldap.ApplicationSearchResultDone, err))
}
