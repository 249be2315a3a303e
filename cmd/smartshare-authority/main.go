// Command smartshare-authority runs the ordering loop that turns
// concurrent client deltas into a single canonical revision log, and
// listens for client connections over raw TCP.
package main

import (
	"net"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/otrelay/smartshare/internal/authority"
	"github.com/otrelay/smartshare/internal/logging"
)

type options struct {
	Args struct {
		Address string `positional-arg-name:"host:port" description:"address to listen on"`
	} `positional-args:"yes" required:"yes"`
}

func main() {
	logging.Init()

	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", opts.Args.Address)
	if err != nil {
		logging.Error("listen on %s: %v", opts.Args.Address, err)
		os.Exit(1)
	}
	logging.Info("listening on %s", ln.Addr())

	a := authority.New()
	for {
		conn, err := ln.Accept()
		if err != nil {
			logging.Error("accept: %v", err)
			continue
		}
		go authority.Serve(a, conn)
	}
}
