// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mdlayher/vsock"
	"github.com/u-root/telnetd/ds"
	"github.com/u-root/telnetd/server"
	"github.com/u-root/telnetd/session"
	"github.com/u-root/u-root/pkg/ulog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const (
	any = math.MaxUint32

	// daemonEnv marks the background copy started by -d.
	daemonEnv = "TELNETD_DAEMON"
	// listenerFD is where the background copy finds the bound socket.
	listenerFD = 3

	shutdownTimeout = 10 * time.Second
)

// logger is where connections and session ends are reported.
var logger server.Logger = ulog.Log

func commonsetup() {
	if *klog {
		ulog.KernelLog.Reinit()
		logger = ulog.KernelLog
	}
	if *debug {
		v = log.Printf
		if *klog {
			v = ulog.KernelLog.Printf
		}
		server.SetVerbose(v)
		session.SetVerbose(v)
		ds.Verbose(v)
	}
}

// checkProgram makes sure prog can be run before anyone connects.
func checkProgram(prog string) error {
	if err := unix.Access(prog, unix.X_OK); err != nil {
		return fmt.Errorf("%s: %w", prog, err)
	}
	return nil
}

// listenerFile returns a copy of the descriptor behind ln.
func listenerFile(ln net.Listener) (*os.File, error) {
	sc, ok := ln.(syscall.Conn)
	if !ok {
		return nil, fmt.Errorf("listener %T has no file descriptor", ln)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}
	var fd int
	var dupErr error
	if err := rc.Control(func(f uintptr) {
		fd, dupErr = unix.FcntlInt(f, unix.F_DUPFD_CLOEXEC, 0)
	}); err != nil {
		return nil, err
	}
	if dupErr != nil {
		return nil, fmt.Errorf("dup listener: %w", dupErr)
	}
	return os.NewFile(uintptr(fd), "listener"), nil
}

// background starts a detached copy of this process that serves ln.
// The copy sees daemonEnv and finds ln at listenerFD; the caller
// should exit.
func background(ln net.Listener) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	f, err := listenerFile(ln)
	if err != nil {
		return err
	}
	defer f.Close()
	c := exec.Command(self, os.Args[1:]...)
	c.Env = append(os.Environ(), daemonEnv+"=1")
	c.ExtraFiles = []*os.File{f}
	// Nil stdio means /dev/null.
	c.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := c.Start(); err != nil {
		return fmt.Errorf("starting background telnetd: %w", err)
	}
	verbose("background telnetd is pid %d", c.Process.Pid)
	return c.Process.Release()
}

// interfaceAddr returns the first address of the named interface that
// suits network.
func interfaceAddr(name, network string) (string, error) {
	ifc, err := net.InterfaceByName(name)
	if err != nil {
		return "", err
	}
	addrs, err := ifc.Addrs()
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipn.IP
		is4 := ip.To4() != nil
		if (network == "tcp4" && !is4) || (network == "tcp6" && is4) {
			continue
		}
		if !is4 && ip.IsLinkLocalUnicast() {
			return ip.String() + "%" + name, nil
		}
		return ip.String(), nil
	}
	return "", fmt.Errorf("%s has no %s address", name, network)
}

func listen(network, host, port string) (net.Listener, error) {
	// Sadly, vsock is not in the standard Go net package.
	// It should be but ...
	var (
		ln  net.Listener
		err error
	)

	switch network {
	case "vsock":
		var p uint64
		p, err = strconv.ParseUint(port, 0, 32)
		if err != nil {
			return nil, err
		}
		ln, err = vsock.ListenContextID(any, uint32(p), nil)

	case "unix":
		// net.JoinHostPort really ought to work for UDS, but it's very naive.
		// It does not take the network type as a parameter.
		ln, err = net.Listen(network, port)

	default:
		ln, err = net.Listen(network, net.JoinHostPort(host, port))
	}
	return ln, err
}

// bind resolves -i and listens.
func bind() (net.Listener, error) {
	var host string
	if *iface != "" {
		switch *network {
		case "tcp", "tcp4", "tcp6":
		default:
			return nil, fmt.Errorf("-i %s: only for tcp networks, not %s", *iface, *network)
		}
		h, err := interfaceAddr(*iface, *network)
		if err != nil {
			return nil, err
		}
		host = h
	}
	return listen(*network, host, *port)
}

func run() error {
	commonsetup()
	if err := checkProgram(*login); err != nil {
		return err
	}

	var dsPort int
	if *dsEnabled {
		p, err := strconv.Atoi(*port)
		if err != nil {
			return fmt.Errorf("could not parse port %q for dns-sd: %w", *port, err)
		}
		dsPort = p
	}

	// With -d, the socket is bound here so that a busy port or a bad
	// interface is reported before the background copy loses stderr.
	var serve func(*server.Server) error
	if os.Getenv(daemonEnv) != "" {
		serve = func(s *server.Server) error {
			return s.ServeFD(listenerFD)
		}
	} else {
		ln, err := bind()
		if err != nil {
			return err
		}
		defer ln.Close()
		if *daemonize {
			return background(ln)
		}
		verbose("Listening on %v", ln.Addr())
		serve = func(s *server.Server) error {
			return s.Serve(ln)
		}
	}

	logger.Printf("telnetd: starting")
	logger.Printf("telnetd: port %s, interface %q, program %s", *port, *iface, *login)

	opts := []server.Option{server.WithLogger(logger)}
	if *dsEnabled {
		opts = append(opts, server.WithTenants(ds.Tenant))
	}
	srv := server.New(*login, opts...)

	sig, stop := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sig)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		if err := serve(srv); !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		verbose("shutting down")
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		return srv.Shutdown(sctx)
	})
	if *dsEnabled {
		txt := ds.ParseKv(*dsTxtStr)
		v("Advertising w/dnssd %q", txt)
		g.Go(func() error {
			if err := ds.Register(ctx, *dsInstance, *dsDomain, *dsService, *dsInterface, dsPort, txt); err != nil {
				return fmt.Errorf("could not advertise with dns-sd: %w", err)
			}
			return nil
		})
	}
	err := g.Wait()
	if err != nil && os.Getenv(daemonEnv) != "" {
		// stderr is /dev/null here.
		logger.Printf("telnetd: %v", err)
	}
	return err
}
