// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package server is for building telnet servers, a.k.a. telnetd.
//
// A telnetd accepts TCP connections and gives each one a login program
// running on a fresh pseudo-terminal. There is no encryption and no
// authentication beyond whatever the login program does, so it belongs
// on networks you control: a lab, a VM's host-only network, a serial
// console replacement on an embedded board.
//
// The basic flow of setting up a server is similar to most such servers:
// a call to New, preceded or followed by a call to net.Listen to get a
// socket, and a call to Serve with the listener. ServeFD does the same
// for a listening descriptor obtained some other way, e.g. from init.
//
// Unlike most Go servers there is no goroutine per connection. Serve
// runs one loop that polls the listener and both descriptors of every
// session, and moves bytes for whichever are ready. Each direction of
// a session goes through a 4000 byte ring buffer; when a buffer fills,
// the loop stops reading from its source until it drains. One busy
// session can therefore never grow memory or starve the others by more
// than one buffer's worth per pass.
//
// Serve returns ErrServerClosed after Shutdown or Close. Every session
// is torn down first: programs are killed and reaped, descriptors closed.
package server
