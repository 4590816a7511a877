// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/u-root/u-root/pkg/termios"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// A Spawner starts a program with tty as its controlling terminal and
// as its stdin, stdout and stderr, in a new session.
type Spawner interface {
	Spawn(tty *os.File) (Process, error)
}

// A Process is a program started by a Spawner.
type Process interface {
	Pid() int
	// Kill stops the process. It is not an error if it already exited.
	Kill() error
	// Wait blocks until the process exits and reaps it. How the process
	// exited is not an error.
	Wait() error
}

// Command is a Spawner that executes the named program with no
// arguments beyond its own path.
type Command string

// Spawn implements Spawner.
func (c Command) Spawn(tty *os.File) (Process, error) {
	if !term.IsTerminal(int(tty.Fd())) {
		return nil, fmt.Errorf("%v is not a terminal", tty.Name())
	}
	if err := Terminal(tty); err != nil {
		return nil, err
	}
	cmd := &exec.Cmd{
		Path:   string(c),
		Args:   []string{string(c)},
		Stdin:  tty,
		Stdout: tty,
		Stderr: tty,
		// Ctty is a descriptor number in the child, i.e. stdin.
		SysProcAttr: &syscall.SysProcAttr{Setsid: true, Setctty: true, Ctty: 0},
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &cmdProcess{cmd: cmd}, nil
}

// Terminal sets up the terminal the way a login program expects:
// local echo, NL to CR-NL on output, CR to NL on input, and no input
// flow control.
func Terminal(tty *os.File) error {
	t, err := termios.GetTermios(tty.Fd())
	if err != nil {
		return fmt.Errorf("GetTermios(%v): %w", tty.Name(), err)
	}
	t.Lflag |= unix.ECHO
	t.Oflag |= oflags
	t.Iflag |= unix.ICRNL
	t.Iflag &^= unix.IXOFF
	if err := termios.SetTermios(tty.Fd(), t); err != nil {
		return fmt.Errorf("SetTermios(%v): %w", tty.Name(), err)
	}
	return nil
}

type cmdProcess struct {
	cmd *exec.Cmd
}

func (p *cmdProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *cmdProcess) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *cmdProcess) Wait() error {
	err := p.cmd.Wait()
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		verbose("pid %d: %v", p.Pid(), ee.ProcessState)
		return nil
	}
	return err
}
