// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"bytes"
	"errors"
	"fmt"
	"syscall"

	"github.com/u-root/telnetd/telnet"
	"golang.org/x/sys/unix"
)

// Interest is what a session wants from its descriptors.
// A full buffer turns off reads from its producer until it drains.
type Interest struct {
	ReadNetwork   bool
	WriteNetwork  bool
	ReadTerminal  bool
	WriteTerminal bool
}

// Interest returns the current interest set.
func (s *Session) Interest() Interest {
	return Interest{
		ReadNetwork:   !s.In.Full(),
		WriteTerminal: s.In.Len() > s.held,
		ReadTerminal:  !s.Out.Full(),
		WriteNetwork:  !s.Out.Empty(),
	}
}

// WriteTerminal passes client data to the terminal, minus any telnet
// commands. A command split across reads stays in the buffer until the
// rest of it arrives.
func (s *Session) WriteTerminal() error {
	if s.In.Empty() {
		return nil
	}
	all := s.In.Len()
	p := s.In.Readable()
	consumed, n := telnet.Strip(p)
	if consumed == 0 && len(p) < all {
		// A partial command sits at the end of the buffer and its
		// tail has wrapped to the front.
		s.In.Realign()
		p = s.In.Readable()
		consumed, n = telnet.Strip(p)
	}
	// Unscanned bytes at the very end are a command still arriving.
	s.held = 0
	if len(p) == all {
		s.held = len(p) - consumed
	}

	// Line the deliverable bytes up against the first unscanned byte so
	// that dropping the commands is just a drain.
	copy(p[consumed-n:consumed], p[:n])
	s.In.Drain(consumed - n)
	if n == 0 {
		return nil
	}

	w, err := unix.Write(s.ptyfd, p[consumed-n:consumed])
	if again(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("write terminal: %w", err)
	}
	s.In.Drain(w)
	return nil
}

// WriteNetwork sends terminal output to the client.
func (s *Session) WriteNetwork() error {
	if s.Out.Empty() {
		return nil
	}
	w, err := unix.SendmsgN(s.conn, s.Out.Readable(), nil, nil, unix.MSG_NOSIGNAL)
	if again(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("write network: %w", err)
	}
	s.Out.Drain(w)
	return nil
}

// ReadNetwork reads client data. Some clients send CR NUL for a bare
// carriage return; a trailing NUL is dropped.
func (s *Session) ReadNetwork() error {
	p := s.In.Writable()
	if len(p) == 0 {
		return nil
	}
	n, err := unix.Read(s.conn, p)
	if again(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read network: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("read network: %w", ErrEOF)
	}
	if p[n-1] == 0 {
		n--
	}
	s.In.Fill(n)
	return nil
}

// ReadTerminal reads program output.
func (s *Session) ReadTerminal() error {
	p := s.Out.Writable()
	if len(p) == 0 {
		return nil
	}
	n, err := unix.Read(s.ptyfd, p)
	if again(err) {
		return nil
	}
	// Linux returns EIO once the last holder of the subordinate side
	// is gone.
	if errors.Is(err, syscall.EIO) {
		return fmt.Errorf("read terminal: %w", ErrEOF)
	}
	if err != nil {
		return fmt.Errorf("read terminal: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("read terminal: %w", ErrEOF)
	}
	if s.etx != nil && bytes.IndexByte(p[:n], 3) >= 0 {
		s.etx(s)
	}
	s.Out.Fill(n)
	return nil
}

// Rewind resets the cursors of any empty buffer.
func (s *Session) Rewind() {
	s.In.Reset()
	s.Out.Reset()
}
