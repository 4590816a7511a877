// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import "golang.org/x/sys/unix"

// Tabs are expanded to spaces as well.
const oflags = unix.ONLCR | unix.XTABS
