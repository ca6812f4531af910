// server.go - Relay server.
// Copyright (C) 2026  The taper authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package relay implements the taper rendezvous relay, a message router
// that pairs peers by room id and never sees a plaintext byte.
package relay

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/op/go-logging.v1"

	"github.com/taper-io/taper/core/log"
	"github.com/taper-io/taper/crypto"
	"github.com/taper-io/taper/internal/profiling"
	"github.com/taper-io/taper/relay/config"
)

// Server is a relay server instance.
type Server struct {
	cfg *config.Config

	logBackend *log.Backend
	log        *logging.Logger

	rooms         *roomSet
	passwordHash  []byte
	listeners     []*listener
	metricsSrv    *http.Server
	stopProfiling func()

	fatalErrCh chan error
	haltedCh   chan interface{}
	haltOnce   sync.Once
}

func (s *Server) initLogging() error {
	var err error
	s.logBackend, err = log.New(s.cfg.Logging.File, s.cfg.Logging.Level, s.cfg.Logging.Disable)
	if err == nil {
		s.log = s.logBackend.GetLogger("relay")
	}
	return err
}

// checkPassword validates a presented password hash against the relay
// password.  An open relay accepts anything, hashes included.
func (s *Server) checkPassword(presented []byte) bool {
	if len(s.passwordHash) == 0 {
		return true
	}
	return hmac.Equal(presented, s.passwordHash)
}

// RotateLog reopens the log file, if logging to a file is enabled.
func (s *Server) RotateLog() {
	err := s.logBackend.Rotate()
	if err != nil {
		s.fatalErrCh <- fmt.Errorf("relay: failed to rotate log file: %v", err)
		return
	}
	s.log.Notice("Log rotated.")
}

// Wait blocks until the server has terminated for any reason.
func (s *Server) Wait() {
	<-s.haltedCh
}

// Shutdown gracefully halts the server, at most once.
func (s *Server) Shutdown() {
	s.haltOnce.Do(func() { s.halt() })
}

func (s *Server) halt() {
	s.log.Notice("Starting graceful shutdown.")

	for _, l := range s.listeners {
		l.Halt()
	}
	s.listeners = nil

	if s.metricsSrv != nil {
		s.metricsSrv.Close()
		s.metricsSrv = nil
	}

	if s.stopProfiling != nil {
		s.stopProfiling()
	}

	close(s.fatalErrCh)

	s.log.Notice("Shutdown complete.")
	close(s.haltedCh)
}

// New returns a new Server instance parameterized with the specified
// configuration.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		fatalErrCh: make(chan error),
		haltedCh:   make(chan interface{}),
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}

	// Do the early initialization and bring up logging.
	if err := s.initLogging(); err != nil {
		return nil, err
	}
	s.log.Notice("taper-relay starting up.")

	if cfg.Relay.Password != "" {
		s.passwordHash = crypto.PasswordHash(cfg.Relay.Password)
	}
	s.rooms = newRoomSet(cfg.Limits.MaxRooms)

	// Failures past this point leave listeners or workers behind, so
	// they must tear down via Shutdown().
	isOk := false
	defer func() {
		if !isOk {
			s.Shutdown()
		}
	}()

	// Watch for the first fatal error out of any component.
	go func() {
		err, ok := <-s.fatalErrCh
		if !ok {
			return
		}
		s.log.Errorf("Shutting down due to error: %v", err)
		s.Shutdown()
	}()

	stopProfiling, err := profiling.Start(s.log)
	if err != nil {
		return nil, err
	}
	s.stopProfiling = stopProfiling

	// Bring the metrics endpoint online.
	if cfg.Relay.MetricsAddress != "" {
		registerMetrics()
		metricsL, err := net.Listen("tcp", cfg.Relay.MetricsAddress)
		if err != nil {
			s.log.Errorf("Failed to bind metrics endpoint '%v': %v", cfg.Relay.MetricsAddress, err)
			return nil, err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.metricsSrv = &http.Server{
			Handler:  mux,
			ErrorLog: s.logBackend.GetGoLogger("metrics_http", "debug"),
		}
		go func(srv *http.Server) {
			err := srv.Serve(metricsL)
			if err != nil && err != http.ErrServerClosed {
				s.fatalErrCh <- err
			}
		}(s.metricsSrv)
		s.log.Noticef("Metrics endpoint on: %v", metricsL.Addr())
	}

	// Bring the listeners online.
	for i, addr := range cfg.Relay.Addresses {
		l, err := newListener(s, i, addr)
		if err != nil {
			s.log.Errorf("Failed to start listener '%v': %v", addr, err)
			continue
		}
		s.listeners = append(s.listeners, l)
	}
	if len(s.listeners) == 0 {
		s.log.Errorf("Failed to start any listeners.")
		return nil, errors.New("relay: failed to start any listeners")
	}

	isOk = true
	return s, nil
}
