// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/u-root/telnetd/session"
	"github.com/u-root/u-root/pkg/ulog"
	"golang.org/x/sys/unix"
)

var (
	// ErrServerClosed is returned by Serve and ServeFD after Shutdown or Close.
	ErrServerClosed = errors.New("telnetd: Server closed")
	// ErrMultiplex is returned by Serve and ServeFD when waiting for
	// descriptors fails for good.
	ErrMultiplex = errors.New("telnetd: poll failed")

	v = func(string, ...interface{}) {}
)

// SetVerbose sets the debug print function for the package.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

func verbose(f string, a ...interface{}) {
	v("TELNETD:"+f, a...)
}

// Logger receives the events worth keeping: connections and the end
// of sessions. ulog.Log and ulog.KernelLog both qualify.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Server is a telnet server. Set the fields before calling Serve.
type Server struct {
	// Manager starts a session for each connection.
	Manager *session.Manager
	// Log gets one line per accepted connection and per ended session.
	Log Logger
	// Tenants, if set, is called with +1 and -1 as sessions come and go.
	Tenants func(delta int)

	sessions *registry
	active   atomic.Int64

	// After accept runs out of descriptors or memory, the listener is
	// left out of the poll set until acceptAfter.
	acceptDelay time.Duration
	acceptAfter time.Time

	mu       sync.Mutex
	wake     [2]int
	done     chan struct{}
	serving  bool
	shutdown bool
}

// Option configures a Server in New.
type Option func(*Server)

// WithLogger sends connection and termination events to l.
func WithLogger(l Logger) Option {
	return func(s *Server) { s.Log = l }
}

// WithSpawner replaces the way login programs are started.
func WithSpawner(sp session.Spawner) Option {
	return func(s *Server) { s.Manager.Spawner = sp }
}

// WithOpener replaces the way pseudo-terminals are allocated.
func WithOpener(o session.Opener) Option {
	return func(s *Server) { s.Manager.Open = o }
}

// WithTenants sets the Tenants hook.
func WithTenants(f func(delta int)) Option {
	return func(s *Server) { s.Tenants = f }
}

// New returns a Server that runs prog for every connection.
func New(prog string, opts ...Option) *Server {
	m := session.NewManager(prog)
	m.ETX = func(s *session.Session) {
		verbose("%v: found <CTRL>-<C> in data", s.ID)
	}
	s := &Server{Manager: m, Log: ulog.Log}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Len returns the number of active sessions.
func (s *Server) Len() int {
	return int(s.active.Load())
}

// Serve accepts connections on ln until Shutdown or Close is called or
// polling fails. ln must be backed by a file descriptor, as the
// listeners from net.Listen are. ln is not closed.
func (s *Server) Serve(ln net.Listener) error {
	sc, ok := ln.(syscall.Conn)
	if !ok {
		return fmt.Errorf("listener %T has no file descriptor", ln)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	var fd int
	var dupErr error
	if err := rc.Control(func(f uintptr) {
		fd, dupErr = unix.FcntlInt(f, unix.F_DUPFD_CLOEXEC, 0)
	}); err != nil {
		return err
	}
	if dupErr != nil {
		return fmt.Errorf("dup listener: %w", dupErr)
	}
	defer unix.Close(fd)
	verbose("serving %v on fd %d", ln.Addr(), fd)
	return s.ServeFD(fd)
}

// ServeFD is Serve for a bound, listening socket descriptor.
// The descriptor is put in non-blocking mode but is not closed.
func (s *Server) ServeFD(lfd int) error {
	if err := s.start(); err != nil {
		return err
	}
	if err := unix.SetNonblock(lfd, true); err != nil {
		s.stop()
		return fmt.Errorf("SetNonblock(%d): %w", lfd, err)
	}
	var fds []unix.PollFd
	for {
		all := s.sessions.all()
		wait := s.timeout()
		fds = s.interest(fds[:0], lfd, all)
		n, err := unix.Poll(fds, wait)
		if errors.Is(err, unix.EINTR) || (err == nil && n == 0) {
			continue
		}
		if err != nil {
			s.stop()
			return fmt.Errorf("%w: %w", ErrMultiplex, err)
		}
		if fds[0].Revents != 0 {
			verbose("shutdown requested")
			s.stop()
			return ErrServerClosed
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			s.accept(lfd)
		}
		for i, ss := range all {
			s.service(ss, fds[2+2*i].Revents, fds[3+2*i].Revents)
		}
	}
}

// Shutdown stops the server and waits for Serve to tear down every
// session, or for ctx to be done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	done := s.done
	if s.serving {
		if _, err := unix.Write(s.wake[1], []byte{0}); err != nil && !errors.Is(err, unix.EAGAIN) {
			s.mu.Unlock()
			return fmt.Errorf("wake server: %w", err)
		}
	}
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close is Shutdown without a deadline.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Server) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return ErrServerClosed
	}
	if s.serving {
		return errors.New("telnetd: already serving")
	}
	w, err := wakePipe()
	if err != nil {
		return err
	}
	if s.Log == nil {
		s.Log = ulog.Log
	}
	s.wake = w
	s.sessions = newRegistry()
	s.done = make(chan struct{})
	s.serving = true
	return nil
}

// stop ends every session and releases the wakeup pipe.
func (s *Server) stop() {
	for _, ss := range s.sessions.all() {
		s.end(ss, ErrServerClosed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for _, fd := range s.wake {
		if e := unix.Close(fd); e != nil {
			err = multierror.Append(err, e)
		}
	}
	if err != nil {
		verbose("closing wakeup pipe: %v", err)
	}
	s.serving = false
	close(s.done)
}

// interest builds the poll set: the wakeup pipe, the listener, then the
// network and terminal descriptors of each session in order. A
// descriptor nobody wants to hear from is entered as -1, which poll
// skips.
func (s *Server) interest(fds []unix.PollFd, lfd int, all []*session.Session) []unix.PollFd {
	var lev int16 = unix.POLLIN
	if s.backingOff() {
		lev = 0
	}
	fds = append(fds,
		unix.PollFd{Fd: int32(s.wake[0]), Events: unix.POLLIN},
		pollFd(lfd, lev),
	)
	for _, ss := range all {
		in := ss.Interest()
		var nev, tev int16
		if in.ReadNetwork {
			nev |= unix.POLLIN
		}
		if in.WriteNetwork {
			nev |= unix.POLLOUT
		}
		if in.ReadTerminal {
			tev |= unix.POLLIN
		}
		if in.WriteTerminal {
			tev |= unix.POLLOUT
		}
		fds = append(fds, pollFd(ss.NetworkFD(), nev), pollFd(ss.TerminalFD(), tev))
	}
	return fds
}

func pollFd(fd int, events int16) unix.PollFd {
	if events == 0 {
		return unix.PollFd{Fd: -1}
	}
	return unix.PollFd{Fd: int32(fd), Events: events}
}

const (
	readable = unix.POLLIN | unix.POLLHUP | unix.POLLERR
	writable = unix.POLLOUT | unix.POLLHUP | unix.POLLERR
)

// service moves whatever bytes it can for one session. The first error
// ends the session.
func (s *Server) service(ss *session.Session, nrev, trev int16) {
	if nrev&unix.POLLNVAL != 0 || trev&unix.POLLNVAL != 0 {
		s.end(ss, errors.New("invalid descriptor"))
		return
	}
	steps := []struct {
		ready bool
		f     func() error
	}{
		{trev&writable != 0, ss.WriteTerminal},
		{nrev&writable != 0, ss.WriteNetwork},
		{nrev&readable != 0, ss.ReadNetwork},
		{trev&readable != 0, ss.ReadTerminal},
	}
	for _, st := range steps {
		if !st.ready {
			continue
		}
		if err := st.f(); err != nil {
			s.end(ss, err)
			return
		}
	}
	ss.Rewind()
}

// Accept backoff limits, as in net/http.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = 1 * time.Second
)

func (s *Server) backingOff() bool {
	return !s.acceptAfter.IsZero() && time.Now().Before(s.acceptAfter)
}

// timeout is the poll timeout in milliseconds: forever, unless the
// listener is waiting out an accept backoff.
func (s *Server) timeout() int {
	if s.acceptAfter.IsZero() {
		return -1
	}
	d := time.Until(s.acceptAfter)
	if d <= 0 {
		// Over; the listener is back in the poll set.
		s.acceptAfter = time.Time{}
		return -1
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

// exhausted reports accept errors that persist until some descriptor
// or memory is freed.
func exhausted(err error) bool {
	for _, e := range []error{unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

func (s *Server) accept(lfd int) {
	fd, sa, err := accept(lfd)
	if err != nil {
		if exhausted(err) {
			if s.acceptDelay == 0 {
				s.acceptDelay = minAcceptDelay
			} else if s.acceptDelay *= 2; s.acceptDelay > maxAcceptDelay {
				s.acceptDelay = maxAcceptDelay
			}
			s.acceptAfter = time.Now().Add(s.acceptDelay)
			s.Log.Printf("accept: %v; retrying in %v", err, s.acceptDelay)
			return
		}
		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) && !errors.Is(err, unix.ECONNABORTED) {
			s.Log.Printf("accept: %v", err)
		}
		return
	}
	s.acceptDelay = 0
	s.acceptAfter = time.Time{}
	peer := sockaddrString(sa)
	s.Log.Printf("connection from: %s", peer)

	ss, err := s.Manager.Start(fd, peer)
	if err != nil {
		s.Log.Printf("%s: %v", peer, err)
		unix.Close(fd)
		return
	}
	s.sessions.add(ss)
	s.active.Add(1)
	if s.Tenants != nil {
		s.Tenants(1)
	}
}

func (s *Server) end(ss *session.Session, why error) {
	if err := ss.Close(); err != nil {
		verbose("%v: close: %v", ss.ID, err)
	}
	s.sessions.remove(ss.ID)
	s.active.Add(-1)
	// A descriptor was freed; try the listener again now.
	s.acceptAfter = time.Time{}
	if s.Tenants != nil {
		s.Tenants(-1)
	}
	s.Log.Printf("session %v from %s terminated: %v", ss.ID, ss.Peer, why)
}
