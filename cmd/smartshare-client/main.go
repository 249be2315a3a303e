// Command smartshare-client mediates between a local IDE process (over
// stdio) and a smartshare authority (over TCP), reconciling edits from
// both sides through internal/client.
//
// Wiring is modeled on original_source/smartshare/src/client/main.rs's
// tokio::select! loop: one goroutine drains each outbound channel onto
// its wire, one goroutine each reads stdin and the TCP socket, and the
// main goroutine selects between those two readers, feeding whichever
// message arrives into the reconciliation state machine.
package main

import (
	"net"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/otrelay/smartshare/internal/client"
	"github.com/otrelay/smartshare/internal/framing"
	"github.com/otrelay/smartshare/internal/logging"
	"github.com/otrelay/smartshare/internal/protocol"
)

type options struct {
	Format string `short:"f" long:"format" default:"chars" choice:"chars" choice:"bytes" description:"offset unit the IDE speaks in"`
	Args   struct {
		Address string `positional-arg-name:"host:port" description:"authority address to connect to"`
	} `positional-args:"yes" required:"yes"`
}

func main() {
	logging.Init()

	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	if !run(opts) {
		os.Exit(1)
	}
}

// run wires up the connection and drives the reconciliation loop to
// completion. It returns false on connect failure or a fatal protocol
// violation, matching spec.md §6's non-zero exit contract.
func run(opts options) bool {
	format := protocol.FormatChars
	if opts.Format == "bytes" {
		format = protocol.FormatBytes
	}

	conn, err := net.Dial("tcp", opts.Args.Address)
	if err != nil {
		logging.Error("connect to %s: %v", opts.Args.Address, err)
		return false
	}
	defer conn.Close()

	ideOut := make(chan protocol.MessageIde, 8)
	serverOut := make(chan protocol.MessageServer, 8)

	c := client.New(client.NewServerLink(serverOut), client.NewIdeLink(ideOut), 0, format)

	ideWriter := framing.NewWriter[protocol.MessageIde](os.Stdout)
	if err := ideWriter.Write(protocol.NewIdeDeclMsg(format)); err != nil {
		logging.Error("declaring format to ide: %v", err)
	}
	go drain(ideOut, ideWriter.Write, "stdout")

	serverWriter := framing.NewWriter[protocol.MessageServer](conn)
	go drain(serverOut, serverWriter.Write, "tcp")

	stdin := framing.NewReader[protocol.MessageIde](os.Stdin)
	tcp := framing.NewReader[protocol.MessageServer](conn)

	ideIn := make(chan protocol.MessageIde)
	serverIn := make(chan protocol.MessageServer)
	ideErr := make(chan error, 1)
	serverErr := make(chan error, 1)

	go pump(stdin.Read, ideIn, ideErr)
	go pump(tcp.Read, serverIn, serverErr)

	for {
		select {
		case msg := <-ideIn:
			if err := c.OnMessageIde(msg); err != nil {
				logging.Error("protocol violation from ide, disconnecting: %v", err)
				return false
			}
		case msg := <-serverIn:
			if err := c.OnMessageServer(msg); err != nil {
				logging.Error("protocol violation from authority, disconnecting: %v", err)
				return false
			}
		case err := <-ideErr:
			logging.Error("end of stdin: %v", err)
			return true
		case err := <-serverErr:
			logging.Error("end of tcp stream: %v", err)
			return true
		}
	}
}

// drain forwards every message off ch onto write, stopping (and logging)
// at the first write failure -- mirrors the teacher's dedicated
// reader/writer goroutine split (pkg/server/connection.go's
// broadcastUpdates).
func drain[T any](ch <-chan T, write func(T) error, label string) {
	for msg := range ch {
		if err := write(msg); err != nil {
			logging.Error("writing to %s: %v", label, err)
			return
		}
	}
}

// pump reads frames off read in a loop, forwarding each onto out until
// read fails; the error (including io.EOF) is reported on errc.
func pump[T any](read func() (T, error), out chan<- T, errc chan<- error) {
	for {
		msg, err := read()
		if err != nil {
			errc <- err
			return
		}
		out <- msg
	}
}
