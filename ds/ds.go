// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ds

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brutella/dnssd"
)

const (
	// DefaultService is the DNS-SD service type for telnet.
	DefaultService = "_telnet._tcp"
	// DefaultDomain is the DNS-SD domain.
	DefaultDomain = "local"

	timeFormat = "15:04:05.000"
	dsUpdate   = 60 * time.Second // server meta-data refresh
)

var (
	v = func(string, ...interface{}) {}

	mu     sync.Mutex
	cancel = func() {}

	tenants atomic.Int64
	kick    = make(chan struct{}, 1)
)

// Verbose sets the debug print function.
func Verbose(f func(string, ...interface{})) {
	v = f
}

// ParseKv parses a DNS-SD key value string, e.g. "a=b,c", into a map.
// A key without a value is "true".
func ParseKv(arg string) map[string]string {
	txt := make(map[string]string)
	if len(arg) == 0 {
		return txt
	}
	for _, pair := range strings.Split(arg, ",") {
		z := strings.SplitN(pair, "=", 2)
		if len(z) > 1 {
			txt[z[0]] = z[1]
		} else {
			txt[z[0]] = "true"
		}
	}
	return txt
}

// DefaultInstance is the hostname with -telnetd appended.
func DefaultInstance() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "telnetd"
	}
	return hostname + "-telnetd"
}

// DefaultTxt fills in arch, os and cores unless they are already set.
func DefaultTxt(txt map[string]string) {
	if len(txt["arch"]) == 0 {
		txt["arch"] = runtime.GOARCH
	}
	if len(txt["os"]) == 0 {
		txt["os"] = runtime.GOOS
	}
	if len(txt["cores"]) == 0 {
		txt["cores"] = strconv.Itoa(runtime.NumCPU())
	}
}

// UpdateSysInfo refreshes the memory, load and tenants keys.
func UpdateSysInfo(txt map[string]string) {
	sysinfo(txt)
	txt["tenants"] = strconv.FormatInt(tenants.Load(), 10)
	v("ds: sysinfo %q", txt)
}

// Tenant updates the session count by delta. It never blocks, so it is
// safe to call from a server's event loop.
func Tenant(delta int) {
	v("ds: tenant delta %d", delta)
	tenants.Add(int64(delta))
	select {
	case kick <- struct{}{}:
	default:
	}
}

// Unregister stops a running Register.
func Unregister() {
	v("ds: stopping dns-sd server")
	mu.Lock()
	defer mu.Unlock()
	cancel()
}

// Register advertises instance.service.domain on port and answers
// queries until ctx is done or Unregister is called. The TXT record is
// txt plus the defaults and system information, and is refreshed when
// the tenant count changes and once a minute. An empty instance means
// DefaultInstance; an empty iface means all interfaces.
func Register(ctx context.Context, instance, domain, service, iface string, port int, txt map[string]string) error {
	v("ds: starting dns-sd server")
	if len(instance) == 0 {
		instance = DefaultInstance()
	}
	v("ds: advertising %s.%s.%s.", strings.Trim(instance, "."), strings.Trim(service, "."), strings.Trim(domain, "."))

	ctx, ctxCancel := context.WithCancel(ctx)
	defer ctxCancel()
	mu.Lock()
	cancel = ctxCancel
	mu.Unlock()

	resp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("dnssd NewResponder: %w", err)
	}

	var ifaces []string
	if len(iface) > 0 {
		ifaces = append(ifaces, iface)
	}

	DefaultTxt(txt)
	UpdateSysInfo(txt)

	cfg := dnssd.Config{
		Name:   instance,
		Type:   service,
		Domain: domain,
		Port:   port,
		Ifaces: ifaces,
		Text:   txt,
	}
	srv, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("dnssd NewService: %w", err)
	}
	handle, err := resp.Add(srv)
	if err != nil {
		return fmt.Errorf("dnssd Add: %w", err)
	}
	v("ds: %s service %s added", time.Now().Format(timeFormat), handle.Service().ServiceInstanceName())

	go func() {
		t := time.NewTicker(dsUpdate)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			case <-kick:
			}
			UpdateSysInfo(txt)
			handle.UpdateText(txt, resp)
		}
	}()

	if err := resp.Respond(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("dnssd Respond: %w", err)
	}
	v("ds: dns-sd responder exited")
	return nil
}
