// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ring implements the fixed-size circular byte buffer used to
// relay data between a telnet connection and its terminal.
//
// A Buffer has one producer and one consumer. The producer asks for
// Writable, reads into it, and calls Fill with the count. The consumer
// asks for Readable, writes from it, and calls Drain. Neither slice ever
// crosses the wrap boundary, so a single I/O call may see only part of
// what is free or occupied; the next call picks up the rest.
package ring

import "fmt"

// Size is the capacity of every Buffer.
const Size = 4000

// Buffer is a circular byte buffer of Size bytes.
// The zero value is not usable; call New.
type Buffer struct {
	b    []byte
	size int // bytes available
	fill int // next byte written by the producer
	drn  int // next byte taken by the consumer
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{b: make([]byte, Size)}
}

// Len returns the number of bytes available to the consumer.
func (r *Buffer) Len() int {
	return r.size
}

// Free returns the number of bytes the producer may still add.
func (r *Buffer) Free() int {
	return len(r.b) - r.size
}

// Empty reports whether there is nothing to drain.
func (r *Buffer) Empty() bool {
	return r.size == 0
}

// Full reports whether there is no room to fill.
func (r *Buffer) Full() bool {
	return r.size == len(r.b)
}

// Readable returns the next contiguous run of occupied bytes, starting
// at the drain cursor. It is empty when the buffer is empty.
func (r *Buffer) Readable() []byte {
	n := min(len(r.b)-r.drn, r.size)
	return r.b[r.drn : r.drn+n]
}

// Writable returns the next contiguous run of free bytes, starting at
// the fill cursor. It is empty when the buffer is full.
func (r *Buffer) Writable() []byte {
	n := min(len(r.b)-r.fill, len(r.b)-r.size)
	return r.b[r.fill : r.fill+n]
}

// Fill records that n bytes were written into Writable.
func (r *Buffer) Fill(n int) {
	if n < 0 || n > len(r.b)-r.fill || n > r.Free() {
		panic(fmt.Sprintf("ring: Fill(%d) with fill cursor %d and %d free", n, r.fill, r.Free()))
	}
	r.fill += n
	r.size += n
	if r.fill == len(r.b) {
		r.fill = 0
	}
}

// Drain records that n bytes of Readable were consumed.
func (r *Buffer) Drain(n int) {
	if n < 0 || n > len(r.b)-r.drn || n > r.size {
		panic(fmt.Sprintf("ring: Drain(%d) with drain cursor %d and %d available", n, r.drn, r.size))
	}
	r.drn += n
	r.size -= n
	if r.drn == len(r.b) {
		r.drn = 0
	}
}

// Append copies as much of p as fits, wrapping if needed, and returns
// the number of bytes copied.
func (r *Buffer) Append(p []byte) int {
	var tot int
	for len(p) > 0 && !r.Full() {
		n := copy(r.Writable(), p)
		r.Fill(n)
		p = p[n:]
		tot += n
	}
	return tot
}

// Reset moves both cursors back to 0 if the buffer is empty.
// It does nothing otherwise.
func (r *Buffer) Reset() {
	if r.size == 0 {
		r.fill, r.drn = 0, 0
	}
}

// Realign rotates the contents so that the drain cursor is 0 and all
// available bytes are contiguous.
func (r *Buffer) Realign() {
	if r.drn == 0 {
		return
	}
	if r.size == 0 {
		r.fill, r.drn = 0, 0
		return
	}
	tmp := make([]byte, r.size)
	n := copy(tmp, r.b[r.drn:min(r.drn+r.size, len(r.b))])
	copy(tmp[n:], r.b)
	copy(r.b, tmp)
	r.drn = 0
	r.fill = r.size % len(r.b)
}

// String is for debugging.
func (r *Buffer) String() string {
	return fmt.Sprintf("ring{len %d fill %d drain %d}", r.size, r.fill, r.drn)
}
