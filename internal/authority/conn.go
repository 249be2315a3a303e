package authority

import (
	"fmt"
	"io"
	"net"

	"github.com/otrelay/smartshare/internal/framing"
	"github.com/otrelay/smartshare/internal/logging"
	"github.com/otrelay/smartshare/internal/protocol"
)

// Conn drives one client's TCP socket: it performs the initial sync
// handshake, then pumps inbound frames into the Authority and outbound
// frames from it onto the wire, until either side closes.
type Conn struct {
	authority *Authority
	id        int
	conn      net.Conn
	reader    *framing.Reader[protocol.MessageServer]
	writer    *framing.Writer[protocol.MessageServer]
	out       chan protocol.MessageServer
}

// Serve runs the connection to completion, performing the handshake
// described in SPEC_FULL.md's initial handshake decision: an empty
// authority asks the first connecting client to upload with RequestFile;
// anyone else gets the current File{text, rev} (possibly an empty one,
// if no client has uploaded yet).
func Serve(a *Authority, nc net.Conn) {
	out := make(chan protocol.MessageServer, 8)
	id, drop := a.Connect(out)
	c := &Conn{
		authority: a,
		id:        id,
		conn:      nc,
		reader:    framing.NewReader[protocol.MessageServer](nc),
		writer:    framing.NewWriter[protocol.MessageServer](nc),
		out:       out,
	}
	defer func() {
		a.Disconnect(id)
		nc.Close()
	}()

	if err := c.sendInitial(); err != nil {
		logging.Error("authority: client %d initial sync: %v", id, err)
		return
	}

	readErr := make(chan error, 1)
	go c.pumpReads(readErr)

	for {
		select {
		case <-drop:
			logging.Warn("authority: client %d severed by authority", id)
			return
		case err := <-readErr:
			if err != nil && err != io.EOF {
				logging.Error("authority: client %d read: %v", id, err)
			}
			return
		case msg, ok := <-c.out:
			if !ok {
				return
			}
			if err := c.writer.Write(msg); err != nil {
				logging.Error("authority: client %d write: %v", id, err)
				return
			}
		}
	}
}

// sendInitial implements the three-way startup branch: File{text} if a
// document already exists, RequestFile to the first connecting client
// on an empty one, or File{""} to anyone joining after that but before
// the first upload lands.
func (c *Conn) sendInitial() error {
	text, rev, err := c.authority.CurrentFile()
	if err != nil {
		return fmt.Errorf("current file: %w", err)
	}

	if rev > 0 {
		return c.writer.Write(protocol.NewServerFileMsg(text, rev))
	}
	if c.authority.claimFirstUploader(c.id) {
		return c.writer.Write(protocol.NewServerRequestFileMsg())
	}
	return c.writer.Write(protocol.NewServerFileMsg("", rev))
}

func (c *Conn) pumpReads(done chan<- error) {
	for {
		msg, err := c.reader.Read()
		if err != nil {
			done <- err
			return
		}
		c.authority.Message(c.id, msg)
	}
}
