// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"sync"

	"github.com/google/uuid"
	"github.com/u-root/telnetd/session"
	"golang.org/x/exp/maps"
)

// registry holds the active sessions. Only the serving goroutine
// changes it; the lock lets others take a snapshot.
type registry struct {
	mu sync.Mutex
	m  map[uuid.UUID]*session.Session
}

func newRegistry() *registry {
	return &registry{m: make(map[uuid.UUID]*session.Session)}
}

func (r *registry) add(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[s.ID] = s
}

func (r *registry) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, id)
}

// all returns a snapshot, in no particular order, that stays valid
// while sessions are removed.
func (r *registry) all() []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Values(r.m)
}
