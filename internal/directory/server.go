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
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-logr/logr"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// ErrAlreadyListening is returned by StartListening on a listening server.
var ErrAlreadyListening = errors.New("directory: server is already listening")

// Server is an in-memory LDAP directory server.
type Server struct {
	cfg   *Config
	store *store
	log   logr.Logger

	mu        sync.Mutex
	listening bool
	listeners map[string]net.Listener
	conns     map[*connection]struct{}
	acceptWG  sync.WaitGroup
	connWG    sync.WaitGroup
}

// NewServer creates a server for cfg. The server does not accept connections
// until StartListening is called, but entries may be added right away.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil || len(cfg.baseDNs) == 0 {
		return nil, ErrNoBaseDN
	}
	return &Server{
		cfg:   cfg,
		store: newStore(),
		log:   cfg.logger.WithName("directory"),
		conns: make(map[*connection]struct{}),
	}, nil
}

// StartListening opens every configured listener. If one listener fails the
// ones already opened are closed again.
func (s *Server) StartListening() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listening {
		return ErrAlreadyListening
	}

	listeners := make(map[string]net.Listener, len(s.cfg.listeners))
	for _, lc := range s.cfg.listeners {
		address := net.JoinHostPort(lc.Address, strconv.Itoa(lc.Port))
		l, err := net.Listen("tcp", address)
		if err != nil {
			for _, opened := range listeners {
				_ = opened.Close()
			}
			return fmt.Errorf("failed to start listener %q on %s: %w", lc.Name, address, err)
		}
		listeners[lc.Name] = l
		s.log.Info("Listener started", "listener", lc.Name, "address", l.Addr().String())
	}

	s.listeners = listeners
	s.listening = true
	for name, l := range listeners {
		s.acceptWG.Add(1)
		go s.accept(name, l)
	}
	return nil
}

func (s *Server) accept(name string, l net.Listener) {
	defer s.acceptWG.Done()
	log := s.log.WithValues("listener", name)

	for {
		nc, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Error(err, "Failed to accept connection")
			time.Sleep(5 * time.Millisecond)
			continue
		}

		c := newConnection(s, nc)

		s.mu.Lock()
		if !s.listening {
			s.mu.Unlock()
			_ = nc.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.connWG.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.connWG.Done()
			defer s.untrack(c)
			c.serve()
		}()
	}
}

func (s *Server) untrack(c *connection) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// ShutDown closes all listeners. With closeExisting set, open client
// connections are closed as well; otherwise ShutDown waits for clients to
// disconnect. Calling ShutDown on a server that is not listening is a no-op.
func (s *Server) ShutDown(closeExisting bool) error {
	s.mu.Lock()
	if !s.listening {
		s.mu.Unlock()
		return nil
	}
	s.listening = false

	var errs []error
	for name, l := range s.listeners {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close listener %q: %w", name, err))
		}
	}
	s.listeners = nil

	if closeExisting {
		for c := range s.conns {
			c.close()
		}
	}
	s.mu.Unlock()

	s.acceptWG.Wait()
	s.connWG.Wait()
	s.log.Info("Server shut down", "closedConnections", closeExisting)

	return utilerrors.NewAggregate(errs)
}

// IsListening reports whether the server accepts connections.
func (s *Server) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// ListenPort returns the bound port of the named listener, or -1 when the
// listener is not open.
func (s *Server) ListenPort(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listeners[name]
	if !ok {
		return -1
	}
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return -1
	}
	return addr.Port
}

// Add adds an entry. Failures are returned as *ldap.Error.
func (s *Server) Add(dn string, attrs ...ldap.Attribute) error {
	return s.add(dn, attrs, internalRootDN)
}

// AddEntry adds a go-ldap entry.
func (s *Server) AddEntry(e *ldap.Entry) error {
	attrs := make([]ldap.Attribute, 0, len(e.Attributes))
	for _, a := range e.Attributes {
		attrs = append(attrs, ldap.Attribute{Type: a.Name, Vals: a.Values})
	}
	return s.Add(e.DN, attrs...)
}

func (s *Server) add(dn string, attrs []ldap.Attribute, bindDN string) error {
	parsed, err := parseDN(dn)
	if err != nil {
		return invalidDN(dn, err)
	}

	namingContext := false
	inScope := false
	for _, base := range s.cfg.baseDNs {
		if base.EqualFold(parsed) {
			namingContext = true
		}
		if underOrEqual(base, parsed) {
			inScope = true
		}
	}
	if !inScope {
		return newError(ldap.LDAPResultNoSuchObject, "", "entry %q is not within any configured base DN", dn)
	}

	e, err := newEntry(dn, parsed, attrs)
	if err != nil {
		return err
	}
	if s.cfg.schema != nil {
		if err := s.cfg.schema.validate(e); err != nil {
			return err
		}
	}
	stampCreated(e, bindDN, time.Now())

	if err := s.store.insert(e, namingContext); err != nil {
		return err
	}
	s.log.V(1).Info("Entry added", "dn", dn)
	return nil
}

// Delete removes a leaf entry.
func (s *Server) Delete(dn string) error {
	parsed, err := parseDN(dn)
	if err != nil {
		return invalidDN(dn, err)
	}
	if err := s.store.remove(parsed); err != nil {
		return err
	}
	s.log.V(1).Info("Entry deleted", "dn", dn)
	return nil
}

// Get returns the entry at dn with all user and operational attributes, or
// nil if it does not exist.
func (s *Server) Get(dn string) *ldap.Entry {
	parsed, err := parseDN(dn)
	if err != nil {
		return nil
	}
	e, ok := s.store.get(parsed)
	if !ok {
		return nil
	}
	return e.toLDAP(selection{allUser: true, allOperational: true})
}

// EntryCount returns the number of entries in the directory.
func (s *Server) EntryCount() int {
	return s.store.len()
}

// BaseDNs returns the naming contexts the server serves.
func (s *Server) BaseDNs() []string {
	return s.cfg.BaseDNs()
}
