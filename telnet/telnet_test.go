// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package telnet

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestStrip(t *testing.T) {
	var tests = []struct {
		name     string
		in       []byte
		consumed int
		out      string
	}{
		{"empty", []byte{}, 0, ""},
		{"plain", []byte("ls -l\r"), 6, "ls -l\r"},
		{"marker then hi", []byte{IAC, DO, ECHO, 'h', 'i'}, 5, "hi"},
		{"hi then marker", []byte{'h', 'i', IAC, WILL, SGA}, 5, "hi"},
		{"interleaved", []byte{'a', IAC, DO, 1, 'b', IAC, WONT, 3, IAC, DONT, 33, 'c'}, 12, "abc"},
		{"only markers", []byte{IAC, DO, ECHO, IAC, WILL, SGA}, 6, ""},
		{"lone IAC", []byte{'x', IAC}, 1, "x"},
		{"IAC plus one", []byte{'x', 'y', IAC, DO}, 2, "xy"},
		{"IAC IAC IAC", []byte{IAC, IAC, IAC, 'z'}, 4, "z"},
	}
	for _, tt := range tests {
		p := append([]byte{}, tt.in...)
		consumed, n := Strip(p)
		if consumed != tt.consumed {
			t.Errorf("%s: Strip(%v): consumed %d != %d", tt.name, tt.in, consumed, tt.consumed)
		}
		if got := string(p[:n]); got != tt.out {
			t.Errorf("%s: Strip(%v): %q != %q", tt.name, tt.in, got, tt.out)
		}
		if !bytes.Equal(p[consumed:], tt.in[consumed:]) {
			t.Errorf("%s: Strip(%v) modified unscanned bytes: %v != %v", tt.name, tt.in, p[consumed:], tt.in[consumed:])
		}
	}
}

func TestHandshake(t *testing.T) {
	if len(Handshake) != 12 {
		t.Fatalf("len(Handshake): %d != 12", len(Handshake))
	}
	want := []string{"IAC DO ECHO", "IAC DO LFLOW", "IAC WILL ECHO", "IAC WILL SGA"}
	for i, w := range want {
		m := Handshake[i*3 : i*3+3]
		if m[0] != IAC {
			t.Errorf("marker %d: first byte %d != IAC", i, m[0])
		}
		if got := Command(m[1], m[2]); got != w {
			t.Errorf("marker %d: %q != %q", i, got, w)
		}
	}
}

// Feeding the stream in arbitrary pieces, keeping the unscanned tail for
// the next call, must give the same result as one pass.
func TestStripFragments(t *testing.T) {
	rnd := rand.New(rand.NewSource(854))
	for iter := 0; iter < 500; iter++ {
		var stream, want []byte
		for len(stream) < 200 {
			if rnd.Intn(4) == 0 {
				stream = append(stream, IAC, byte(rnd.Intn(256)), byte(rnd.Intn(256)))
				continue
			}
			b := byte(rnd.Intn(255))
			stream = append(stream, b)
			want = append(want, b)
		}

		var got, pending []byte
		rest := stream
		for len(rest) > 0 {
			k := 1 + rnd.Intn(min(len(rest), 7))
			pending = append(pending, rest[:k]...)
			rest = rest[k:]
			consumed, n := Strip(pending)
			got = append(got, pending[:n]...)
			pending = append([]byte{}, pending[consumed:]...)
		}
		if len(pending) != 0 {
			t.Fatalf("iteration %d: %d bytes left over: %v", iter, len(pending), pending)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("iteration %d: fragmented Strip: %v != %v", iter, got, want)
		}
		if bytes.IndexByte(got, IAC) >= 0 {
			t.Fatalf("iteration %d: IAC delivered", iter)
		}
	}
}

func TestCommandUnknown(t *testing.T) {
	// Codes telnetd never sends or acts on are printed as numbers.
	for _, tt := range []struct {
		cmd, opt byte
		want     string
	}{
		{7, 99, "IAC 7 99"},
		{241, 31, "IAC 241 31"},
		{DO, 31, "IAC DO 31"},
	} {
		if got := Command(tt.cmd, tt.opt); got != tt.want {
			t.Errorf("Command(%d, %d): %q != %q", tt.cmd, tt.opt, got, tt.want)
		}
	}
}
