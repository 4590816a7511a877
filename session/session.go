// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"errors"
	"fmt"
	"os"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/u-root/telnetd/ring"
	"github.com/u-root/telnetd/telnet"
	"golang.org/x/sys/unix"
)

var (
	// ErrResourceExhausted is returned by Start when no pseudo-terminal
	// could be allocated.
	ErrResourceExhausted = errors.New("no pseudo-terminal available")
	// ErrSpawn is returned by Start when the program could not be started.
	ErrSpawn = errors.New("cannot start program")
	// ErrEOF is returned by the I/O steps when a descriptor reaches end of file.
	ErrEOF = errors.New("end of file")
	// ErrClosed is returned by Close on a session that is already closed.
	ErrClosed = errors.New("session already closed")
)

// An Opener allocates a pseudo-terminal and returns both of its sides.
type Opener func() (pty, tty *os.File, err error)

// Manager starts sessions.
type Manager struct {
	// Spawner runs the login program on each new terminal.
	Spawner Spawner
	// Open allocates terminals. If nil, pty.Open is used.
	Open Opener
	// ETX, if set, is called when the program writes a byte 3 (^C).
	// It is purely diagnostic.
	ETX func(*Session)
}

// NewManager returns a Manager that runs prog on every terminal.
func NewManager(prog string) *Manager {
	return &Manager{Spawner: Command(prog)}
}

// Session is one telnet connection, its terminal, and its program.
type Session struct {
	// ID is unique for the life of the process.
	ID uuid.UUID
	// Peer is the remote address, for logging.
	Peer string

	// In holds client data on its way to the terminal.
	In *ring.Buffer
	// Out holds terminal output on its way to the client.
	Out *ring.Buffer

	conn   int
	pty    *os.File
	ptyfd  int
	proc   Process
	etx    func(*Session)
	held   int // bytes of In waiting for the rest of a command
	closed bool
}

// Start creates a session for the connected socket conn. On error
// nothing allocated by Start is left open, but conn is not closed: it
// still belongs to the caller.
func (m *Manager) Start(conn int, peer string) (*Session, error) {
	open := m.Open
	if open == nil {
		open = pty.Open
	}
	p, tty, err := open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	}

	s := &Session{
		ID:   uuid.New(),
		Peer: peer,
		In:   ring.New(),
		Out:  ring.New(),
		conn: conn,
		pty:  p,
		etx:  m.ETX,
	}
	s.Out.Append(telnet.Handshake)
	for h := telnet.Handshake; len(h) >= 3; h = h[3:] {
		verbose("%v: queued %s", s.ID, telnet.Command(h[1], h[2]))
	}

	proc, err := m.Spawner.Spawn(tty)
	// The program has its own copy now, if it started at all.
	if cerr := tty.Close(); cerr != nil {
		verbose("closing %v: %v", tty.Name(), cerr)
	}
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	s.proc = proc
	verbose("%v: started pid %d for %v on %v", s.ID, proc.Pid(), peer, p.Name())

	s.ptyfd = int(p.Fd())
	for _, fd := range []int{s.ptyfd, conn} {
		if err := unix.SetNonblock(fd, true); err != nil {
			s.conn = -1
			if cerr := s.Close(); cerr != nil {
				verbose("%v: cleanup: %v", s.ID, cerr)
			}
			return nil, fmt.Errorf("SetNonblock(%d): %w", fd, err)
		}
	}
	return s, nil
}

// NetworkFD returns the socket descriptor.
func (s *Session) NetworkFD() int {
	return s.conn
}

// TerminalFD returns the pseudo-terminal descriptor.
func (s *Session) TerminalFD() int {
	return s.ptyfd
}

// Pid returns the process id of the program.
func (s *Session) Pid() int {
	return s.proc.Pid()
}

// Close kills the program, waits for it, and closes both descriptors.
// Every step is attempted even if an earlier one fails.
func (s *Session) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true

	var err error
	if e := s.proc.Kill(); e != nil {
		err = multierror.Append(err, fmt.Errorf("kill %d: %w", s.proc.Pid(), e))
	}
	if e := s.proc.Wait(); e != nil {
		err = multierror.Append(err, fmt.Errorf("wait %d: %w", s.proc.Pid(), e))
	}
	if e := s.pty.Close(); e != nil {
		err = multierror.Append(err, fmt.Errorf("close %v: %w", s.pty.Name(), e))
	}
	if s.conn >= 0 {
		if e := unix.Close(s.conn); e != nil {
			err = multierror.Append(err, fmt.Errorf("close socket %d: %w", s.conn, e))
		}
	}
	s.In, s.Out = nil, nil
	verbose("%v: closed, err %v", s.ID, err)
	return err
}
