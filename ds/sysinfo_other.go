// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package ds

// sysinfo is a no-op: only Linux has sysinfo(2).
func sysinfo(map[string]string) {}
