// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"bytes"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/u-root/u-root/pkg/termios"
	"golang.org/x/sys/unix"
)

const cat = "/bin/cat"

func openPty(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	if _, err := os.Stat(cat); err != nil {
		t.Skipf("no %s: %v", cat, err)
	}
	p, tty, err := pty.Open()
	if err != nil {
		t.Skipf("pty.Open: %v", err)
	}
	return p, tty
}

func TestTerminal(t *testing.T) {
	p, tty := openPty(t)
	defer p.Close()
	defer tty.Close()

	if err := Terminal(tty); err != nil {
		t.Fatalf("Terminal(%v): %v != nil", tty.Name(), err)
	}
	tt, err := termios.GetTermios(tty.Fd())
	if err != nil {
		t.Fatalf("GetTermios: %v", err)
	}
	if tt.Lflag&unix.ECHO == 0 {
		t.Errorf("ECHO not set: lflag %#x", tt.Lflag)
	}
	if tt.Oflag&unix.ONLCR == 0 {
		t.Errorf("ONLCR not set: oflag %#x", tt.Oflag)
	}
	if tt.Iflag&unix.ICRNL == 0 || tt.Iflag&unix.IXOFF != 0 {
		t.Errorf("iflag %#x: want ICRNL set and IXOFF clear", tt.Iflag)
	}
}

func TestSpawnNotTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "notatty")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := Command(cat).Spawn(f); err == nil {
		t.Errorf("Spawn on a regular file: nil != an error")
	}
}

func TestSpawnCat(t *testing.T) {
	v = t.Logf
	p, tty := openPty(t)
	defer p.Close()

	proc, err := Command(cat).Spawn(tty)
	tty.Close()
	if err != nil {
		t.Fatalf("Spawn(%q): %v != nil", cat, err)
	}

	if _, err := p.Write([]byte("hello\r")); err != nil {
		t.Fatalf("write pty: %v", err)
	}
	// Once for the echo, once from cat, both with CR NL.
	want := []byte("hello\r\nhello\r\n")
	var got []byte
	buf := make([]byte, 128)
	p.SetReadDeadline(time.Now().Add(10 * time.Second))
	for !bytes.Contains(got, want) {
		n, err := p.Read(buf)
		if err != nil {
			t.Fatalf("read pty after %q: %v", got, err)
		}
		got = append(got, buf[:n]...)
	}

	if err := proc.Kill(); err != nil {
		t.Errorf("Kill: %v != nil", err)
	}
	if err := proc.Wait(); err != nil {
		t.Errorf("Wait: %v != nil", err)
	}
	if err := unix.Kill(proc.Pid(), 0); !errors.Is(err, syscall.ESRCH) {
		t.Errorf("Kill(%d, 0) after reap: %v != %v", proc.Pid(), err, syscall.ESRCH)
	}
	// A second Kill of a reaped process is fine.
	if err := proc.Kill(); err != nil {
		t.Errorf("second Kill: %v != nil", err)
	}
}

// Closing a session running a real program leaves nothing behind.
func TestCloseRealProgram(t *testing.T) {
	v = t.Logf
	if _, err := os.Stat(cat); err != nil {
		t.Skipf("no %s: %v", cat, err)
	}
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	defer unix.Close(fds[1])

	s, err := NewManager(cat).Start(fds[0], "test")
	if errors.Is(err, ErrResourceExhausted) {
		t.Skipf("no pty: %v", err)
	}
	if err != nil {
		t.Fatalf("Start: %v != nil", err)
	}
	pid, conn, ptyfd := s.Pid(), s.NetworkFD(), s.TerminalFD()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v != nil", err)
	}
	if err := unix.Kill(pid, 0); !errors.Is(err, syscall.ESRCH) {
		t.Errorf("Kill(%d, 0) after Close: %v != %v", pid, err, syscall.ESRCH)
	}
	if !closed(conn) || !closed(ptyfd) {
		t.Errorf("descriptors still open after Close: socket %v pty %v", !closed(conn), !closed(ptyfd))
	}
}
