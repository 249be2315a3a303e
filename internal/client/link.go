package client

import "github.com/otrelay/smartshare/internal/protocol"

// IdeLink is the client's handle onto the outbound IDE channel. Modeled on
// original_source/smartshare/src/client/ide.rs's Ide struct: a thin wrapper
// around a send-only channel, owned exclusively by the state machine.
type IdeLink struct {
	out chan<- protocol.MessageIde
}

// NewIdeLink wraps the outbound channel a writer goroutine drains.
func NewIdeLink(out chan<- protocol.MessageIde) *IdeLink {
	return &IdeLink{out: out}
}

// Send queues a message for the IDE-facing writer.
func (l *IdeLink) Send(msg protocol.MessageIde) {
	l.out <- msg
}

// ServerLink is the client's handle onto the outbound authority channel.
// Modeled on original_source/smartshare/src/server/client.rs's Client
// struct (the client-process-as-seen-by-the-authority is the same shape:
// an id plus a send-only channel).
type ServerLink struct {
	out chan<- protocol.MessageServer
}

// NewServerLink wraps the outbound channel a writer goroutine drains.
func NewServerLink(out chan<- protocol.MessageServer) *ServerLink {
	return &ServerLink{out: out}
}

// Send queues a message for the authority-facing writer.
func (l *ServerLink) Send(msg protocol.MessageServer) {
	l.out <- msg
}
