// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// telnetd serves telnet logins.
//
// Synopsis:
//
//	telnetd [-p port] [-l program] [-i interface] [-net network] [-d] [-v] [-klog] [-dnssd ...]
//
// Description:
//
//	Each connection gets a fresh pseudo-terminal running program,
//	/bin/sh by default. There is no encryption and no authentication
//	beyond what program does, so only run telnetd on networks you trust.
//
//	-d detaches from the controlling terminal and runs in the background.
//	SIGHUP, SIGINT and SIGTERM end every session and exit.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/u-root/telnetd/ds"
)

var (
	port      = flag.String("p", "23", "port to listen on")
	login     = flag.String("l", "/bin/sh", "program to run for each connection")
	iface     = flag.String("i", "", "only listen on the first address of this interface")
	daemonize = flag.Bool("d", false, "run in the background")
	network   = flag.String("net", "tcp", "network to use: tcp, tcp4, tcp6, unix or vsock")
	debug     = flag.Bool("v", false, "enable debug prints")
	klog      = flag.Bool("klog", false, "Log telnetd messages in kernel log, not stderr")

	dsEnabled   = flag.Bool("dnssd", false, "advertise service using DNSSD")
	dsInstance  = flag.String("dsInstance", "", "DNSSD instance name")
	dsDomain    = flag.String("dsDomain", ds.DefaultDomain, "DNSSD domain")
	dsService   = flag.String("dsService", ds.DefaultService, "DNSSD Service Type")
	dsInterface = flag.String("dsInterface", "", "DNSSD Interface")
	dsTxtStr    = flag.String("dsTxt", "", "DNSSD key-value pair string parameterizing advertisement")

	// v allows debug printing.
	// Do not call it directly, call verbose instead.
	v = func(string, ...interface{}) {}
)

func verbose(f string, a ...interface{}) {
	v("TELNETD:"+f, a...)
}

func main() {
	flag.Parse()
	if flag.NArg() != 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
