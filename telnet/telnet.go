// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package telnet holds the small part of RFC 854 that telnetd speaks:
// the command and option codes, the fixed handshake the server sends
// on connect, and Strip, which removes command sequences from client
// data before it reaches the terminal.
package telnet

import "fmt"

// Commands.
const (
	SE   byte = 240
	SB   byte = 250
	WILL byte = 251
	WONT byte = 252
	DO   byte = 253
	DONT byte = 254
	IAC  byte = 255
)

// Options.
const (
	ECHO  byte = 1
	SGA   byte = 3
	LFLOW byte = 33
)

// Handshake is sent to every client before any terminal output.
var Handshake = []byte{
	IAC, DO, ECHO,
	IAC, DO, LFLOW,
	IAC, WILL, ECHO,
	IAC, WILL, SGA,
}

// Strip removes complete three byte command sequences (IAC, command,
// option) from p. The bytes to pass on are compacted, in order, into
// p[:n]. consumed is the number of input bytes scanned: a trailing IAC
// followed by fewer than two bytes is left unscanned so it can be
// completed by a later read. Bytes in p[consumed:] are not modified.
func Strip(p []byte) (consumed, n int) {
	for consumed < len(p) {
		if p[consumed] != IAC {
			p[n] = p[consumed]
			n++
			consumed++
			continue
		}
		if len(p)-consumed < 3 {
			break
		}
		consumed += 3
	}
	return consumed, n
}

var cmdNames = map[byte]string{
	SE: "SE", SB: "SB", WILL: "WILL", WONT: "WONT", DO: "DO", DONT: "DONT", IAC: "IAC",
}

var optNames = map[byte]string{
	ECHO: "ECHO", SGA: "SGA", LFLOW: "LFLOW",
}

// Command formats a command sequence, e.g. "IAC DO ECHO".
func Command(cmd, opt byte) string {
	c, ok := cmdNames[cmd]
	if !ok {
		c = fmt.Sprintf("%d", cmd)
	}
	o, ok := optNames[opt]
	if !ok {
		o = fmt.Sprintf("%d", opt)
	}
	return "IAC " + c + " " + o
}
