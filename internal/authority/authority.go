// Package authority implements the ordering loop that turns concurrent
// client deltas into a single canonical revision log, and the
// per-connection glue around it.
//
// Ported from original_source/smartshare/src/server/server.rs: an actor
// owning the delta log, fed by a single channel of Connect/Disconnect/
// Message events so the log and the client table are only ever touched
// from one goroutine.
package authority

import (
	"fmt"
	"sync"

	ot "github.com/shiv248/operational-transformation-go"

	"github.com/otrelay/smartshare/internal/logging"
	"github.com/otrelay/smartshare/internal/protocol"
)

// client is the authority's view of a connected peer: an id plus a
// send-only handle, mirroring original_source/smartshare/src/server/client.rs.
// drop is closed by the ordering loop when it decides to sever the
// connection (protocol violation, full outbound channel); the conn glue
// selects on it to know when to tear down the socket.
type client struct {
	id   int
	send chan<- protocol.MessageServer
	drop chan struct{}
}

type eventKind int

const (
	eventConnect eventKind = iota
	eventDisconnect
	eventMessage
)

// event is the actor's single inbound channel, standing in for the Rust
// ServerMessage enum (Message/Connect/Disconnect).
type event struct {
	kind     eventKind
	connect  *client
	clientID int
	msg      protocol.MessageServer
}

// Authority is the ordering loop: the delta log plus the connection
// table, both owned exclusively by run's goroutine. Modeled on the
// teacher's Kolabpad, stripped to the revision log and broadcast this
// protocol needs (no document snapshot, cursors, or user metadata --
// those belong to kolabpad's richer protocol).
type Authority struct {
	events chan event

	mu             sync.Mutex
	nextID         int
	clients        map[int]*client
	deltas         []*ot.OperationSeq
	awaitingUpload bool // true once a first connecting client has been asked to upload
}

// New starts the ordering loop and returns a handle to it. deltas[0] is
// always the identity operation over an empty document, exactly as the
// Rust Server::new initializes deltas: vec![OperationSeq::default()].
func New() *Authority {
	a := &Authority{
		events:  make(chan event, 64),
		clients: make(map[int]*client),
		deltas:  []*ot.OperationSeq{ot.NewOperationSeq()},
	}
	go a.run()
	return a
}

// Connect registers a new connection and returns its id, and a channel
// the conn glue should select on: it closes when the authority severs
// the connection on its own initiative.
func (a *Authority) Connect(send chan<- protocol.MessageServer) (id int, drop <-chan struct{}) {
	a.mu.Lock()
	id = a.nextID
	a.nextID++
	a.mu.Unlock()

	d := make(chan struct{})
	a.events <- event{kind: eventConnect, connect: &client{id: id, send: send, drop: d}}
	return id, d
}

// Disconnect removes a connection from the broadcast table.
func (a *Authority) Disconnect(id int) {
	a.events <- event{kind: eventDisconnect, clientID: id}
}

// Message submits one inbound message from clientID for ordering.
func (a *Authority) Message(clientID int, msg protocol.MessageServer) {
	a.events <- event{kind: eventMessage, clientID: clientID, msg: msg}
}

// CurrentFile returns the document text implied by composing every delta
// recorded so far against an empty document, and the revision it's at.
// Used to answer a connecting client's initial sync.
func (a *Authority) CurrentFile() (text string, rev int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	composed := a.deltas[0]
	for _, d := range a.deltas[1:] {
		composed, err = composed.Compose(d)
		if err != nil {
			return "", 0, fmt.Errorf("authority: compose history: %w", err)
		}
	}
	text, err = composed.Apply("")
	if err != nil {
		return "", 0, fmt.Errorf("authority: apply history: %w", err)
	}
	return text, len(a.deltas) - 1, nil
}

// claimFirstUploader reports whether this caller is the first connecting
// client to be asked for an upload on an empty document; only the first
// caller gets true, everyone else (including later retries) gets false
// so they fall back to the empty-File branch instead of asking again.
func (a *Authority) claimFirstUploader(id int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.deltas) > 1 || a.awaitingUpload {
		return false
	}
	a.awaitingUpload = true
	return true
}

// run is the single actor loop. All delta-log and client-table mutation
// happens here, so none of it needs its own lock; CurrentFile and the
// connection bookkeeping above take the mutex only to publish/read
// nextID and deltas to callers outside the loop.
func (a *Authority) run() {
	for ev := range a.events {
		switch ev.kind {
		case eventConnect:
			a.mu.Lock()
			a.clients[ev.connect.id] = ev.connect
			a.mu.Unlock()
			logging.Info("authority: client %d connected", ev.connect.id)

		case eventDisconnect:
			a.mu.Lock()
			delete(a.clients, ev.clientID)
			a.mu.Unlock()
			logging.Info("authority: client %d disconnected", ev.clientID)

		case eventMessage:
			a.onMessage(ev.clientID, &ev.msg)
		}
	}
}

// onMessage handles the two client->authority message variants: File
// (the initial upload) and ServerUpdate (an edit). Mirrors on_message in
// server.rs, generalized to also cover the upload path server.rs leaves
// a todo! for.
func (a *Authority) onMessage(senderID int, msg *protocol.MessageServer) {
	if msg.File != nil {
		a.onUpload(senderID, msg.File)
		return
	}
	if msg.ServerUpdate == nil {
		logging.Error("authority: client %d sent a non-update message, dropping connection", senderID)
		a.dropClient(senderID)
		return
	}
	req := msg.ServerUpdate

	a.mu.Lock()
	defer a.mu.Unlock()

	if req.RevNum < 0 || req.RevNum >= len(a.deltas) {
		// A correct client can never legally submit a revision it hasn't
		// seen an ack or update for yet; treat this as a protocol
		// violation rather than guessing at recovery.
		logging.Error("authority: client %d submitted invalid rev_num %d (have %d)", senderID, req.RevNum, len(a.deltas))
		a.dropClientLocked(senderID)
		return
	}

	transformed := req.Delta
	for _, histDelta := range a.deltas[req.RevNum+1:] {
		_, prime, err := histDelta.Transform(transformed)
		if err != nil {
			logging.Error("authority: transform failed for client %d: %v", senderID, err)
			a.dropClientLocked(senderID)
			return
		}
		transformed = prime
	}

	a.deltas = append(a.deltas, transformed)
	newRev := len(a.deltas) - 1

	for id, c := range a.clients {
		var out protocol.MessageServer
		if id == senderID {
			out = protocol.NewServerAckMsg()
		} else {
			out = protocol.NewServerUpdateMsg(transformed, newRev)
		}
		select {
		case c.send <- out:
		default:
			logging.WithFields(logging.Fields{
				"client_id": id,
				"rev_num":   newRev,
			}).Warn("authority: outbound channel full, dropping client")
			a.dropClientLocked(id)
		}
	}
}

// onUpload handles the initial File upload a client sends in answer to
// RequestFile: it seeds the delta log with a single insert operation and
// broadcasts the new document to everyone else. Only legal once, on an
// empty document; any later File from a client is a protocol violation.
func (a *Authority) onUpload(senderID int, f *protocol.ServerFileMsg) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.deltas) > 1 {
		logging.Error("authority: client %d uploaded after a document already exists, dropping connection", senderID)
		a.dropClientLocked(senderID)
		return
	}

	seed := ot.NewOperationSeq()
	if f.File != "" {
		seed.Insert(f.File)
	}
	a.deltas = append(a.deltas, seed)
	newRev := len(a.deltas) - 1

	for id, c := range a.clients {
		if id == senderID {
			continue
		}
		select {
		case c.send <- protocol.NewServerUpdateMsg(seed, newRev):
		default:
			logging.WithFields(logging.Fields{
				"client_id": id,
				"rev_num":   newRev,
			}).Warn("authority: outbound channel full, dropping client")
			a.dropClientLocked(id)
		}
	}
}

func (a *Authority) dropClient(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dropClientLocked(id)
}

func (a *Authority) dropClientLocked(id int) {
	if c, ok := a.clients[id]; ok {
		close(c.drop)
		delete(a.clients, id)
	}
}
