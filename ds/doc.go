// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Decentralized Services (aka ds)
// Inspired by http://man.cat-v.org/inferno/8/cs
//
// This package provides an opinionated DNS-SD for telnetd.
//
// Beyond announcing the service, it puts meta-data relating to the
// current configuration and state of the system in the DNS-SD TXT record:
// architecture, memory, load and the number of open sessions. Clients
// can use it to pick an appropriate machine to log in to.
//

package ds
