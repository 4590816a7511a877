// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package session manages telnet sessions: one network connection, one
// pseudo-terminal, and the program running on that terminal.
//
// A Manager starts Sessions. Start allocates a pty, seeds the outbound
// buffer with the telnet handshake, and has the Manager's Spawner run
// the login program with the pty's subordinate side as its controlling
// terminal. The caller owns the returned Session and is expected to
// drive it from a readiness loop: Interest says which of the two
// descriptors want reading or writing, and ReadNetwork, WriteTerminal,
// ReadTerminal and WriteNetwork move bytes one step at a time. Any error
// from those steps means the session is over, and Close kills and reaps
// the program and releases the descriptors.
//
// Sessions are not safe for concurrent use. They are meant to be driven
// by exactly one goroutine, which is how the server package uses them.
//
// Data from the client passes through telnet.Strip on the way to the
// terminal, so no command sequence ever reaches the program. Nothing is
// ever sent back in response: the handshake is the only negotiation.
package session
