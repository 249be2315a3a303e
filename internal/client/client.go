// Package client implements the client-side OT reconciliation state
// machine: the mediator between a local IDE process and the authority.
// See SPEC_FULL.md §4.3 for the transition table this file implements.
package client

import (
	"fmt"

	ot "github.com/shiv248/operational-transformation-go"

	"github.com/otrelay/smartshare/internal/logging"
	"github.com/otrelay/smartshare/internal/protocol"
)

// Client owns the reconciliation state of a single IDE<->authority
// session. None of its methods are safe for concurrent use: the caller
// (the transport loop) must serialize calls to OnMessageIde and
// OnMessageServer, processing one message to completion before the next.
//
// Two independent ack-gated pipelines run side by side, mirror images of
// each other: one submission in flight to the authority at a time
// (serverDelta, with clientDelta queuing anything composed while it is
// outstanding), and one update in flight to the IDE at a time (ideDelta,
// with idePending queuing anything composed while it is outstanding).
// file tracks the document as the authority's history implies it;
// ideDoc tracks the document as the IDE actually holds it, which lags
// file whenever an ideDelta is outstanding.
type Client struct {
	ide    *IdeLink
	server *ServerLink

	serverRev   int
	serverDelta *ot.OperationSeq // nil: no submission in flight
	clientDelta *ot.OperationSeq // never nil; identity when nothing queued

	ideDelta   *ot.OperationSeq // nil: nothing forwarded and unacked
	idePending *ot.OperationSeq // never nil; identity when nothing queued

	format protocol.Format
	file   string
	ideDoc string
}

// New creates a client mediator. serverRev is the revision the caller
// already knows about (normally 0, since a fresh connection receives its
// real revision via the startup handshake in OnMessageServer).
func New(server *ServerLink, ide *IdeLink, serverRev int, format protocol.Format) *Client {
	return &Client{
		ide:    ide,
		server: server,
		// No document exists yet prior to the startup handshake
		// (onServerFile/onIdeFile), so the identity base length is 0
		// here; both pipelines are re-seeded to the real document
		// length as soon as one of those arrives.
		serverRev:   serverRev,
		clientDelta: identitySeq(0),
		idePending:  identitySeq(0),
		format:      format,
	}
}

// HasPendingSubmission reports whether a submission to the authority is
// currently awaiting acknowledgement.
func (c *Client) HasPendingSubmission() bool { return c.serverDelta != nil }

// HasPendingIdeUpdate reports whether an update forwarded to the IDE is
// currently awaiting acknowledgement.
func (c *Client) HasPendingIdeUpdate() bool { return c.ideDelta != nil }

// ServerRev reports the revision the client believes it is synced to.
func (c *Client) ServerRev() int { return c.serverRev }

// File reports the canonical document as implied by the authority's
// history and the client's own composed-but-unconfirmed edits.
func (c *Client) File() string { return c.file }

// OnMessageServer applies a message received on the authority channel.
// A non-nil error is a protocol violation: the caller must drop the
// connection (SPEC_FULL.md §4.3.6).
func (c *Client) OnMessageServer(msg protocol.MessageServer) error {
	switch {
	case msg.File != nil:
		return c.onServerFile(msg.File)
	case msg.RequestFile:
		return c.onServerRequestFile()
	case msg.ServerUpdate != nil:
		return c.onServerUpdate(msg.ServerUpdate)
	case msg.Ack:
		return c.onServerAck()
	default:
		return fmt.Errorf("client: empty message from authority")
	}
}

// OnMessageIde applies a message received on the IDE channel.
func (c *Client) OnMessageIde(msg protocol.MessageIde) error {
	switch {
	case msg.File != nil:
		return c.onIdeFile(msg.File)
	case msg.Update != nil:
		return c.onIdeUpdate(msg.Update)
	case msg.Ack:
		return c.onIdeAck()
	case msg.RequestFile:
		return fmt.Errorf("client: ide may not request the file from the client")
	case msg.Decl != nil:
		// Optional handshake; the core contract only depends on format
		// being fixed at construction, so a Decl from the IDE is a no-op.
		return nil
	default:
		return fmt.Errorf("client: empty message from ide")
	}
}

// --- startup (SPEC_FULL.md §4.3.1) ---

func (c *Client) onServerFile(f *protocol.ServerFileMsg) error {
	docLen := len([]rune(f.File))

	c.serverRev = f.Version
	c.serverDelta = nil
	c.clientDelta = identitySeq(docLen)
	c.ideDelta = nil
	c.idePending = identitySeq(docLen)
	c.file = f.File
	c.ideDoc = f.File

	c.ide.Send(protocol.NewIdeFileMsg(f.File))
	return nil
}

func (c *Client) onServerRequestFile() error {
	c.ide.Send(protocol.NewIdeRequestFileMsg())
	return nil
}

func (c *Client) onIdeFile(f *protocol.IdeFileMsg) error {
	docLen := len([]rune(f.File))

	c.clientDelta = identitySeq(docLen)
	c.idePending = identitySeq(docLen)
	c.file = f.File
	c.ideDoc = f.File
	c.server.Send(protocol.NewServerFileMsg(f.File, c.serverRev))
	// The authority records the upload as the next revision and sends the
	// uploader nothing back, so the client advances past it itself.
	c.serverRev++
	return nil
}

// --- local edit (SPEC_FULL.md §4.3.2) ---

func (c *Client) onIdeUpdate(u *protocol.IdeUpdateMsg) error {
	dRaw, newIdeDoc, err := c.buildDelta(c.ideDoc, u.Changes)
	if err != nil {
		return fmt.Errorf("client: translating ide update: %w", err)
	}

	dPrime := dRaw
	var forward []protocol.TextModification
	sendForward := false
	if c.ideDelta == nil {
		c.ideDoc = newIdeDoc
	} else {
		total, err := c.ideDelta.Compose(c.idePending)
		if err != nil {
			return fmt.Errorf("client: composing outstanding ide forwards: %w", err)
		}
		totalPrime, dp, err := total.Transform(dRaw)
		if err != nil {
			return fmt.Errorf("client: transforming ide update against outstanding forwards: %w", err)
		}
		dPrime = dp
		c.ideDoc = newIdeDoc

		if totalPrime.IsNoop() {
			c.ideDelta = nil
			c.idePending = ot.NewOperationSeq()
		} else {
			c.ideDelta = totalPrime
			c.idePending = identitySeq(int(totalPrime.TargetLen()))

			mods, err := c.translateForIde(totalPrime, newIdeDoc)
			if err != nil {
				return fmt.Errorf("client: re-expressing outstanding ide forward: %w", err)
			}
			forward = mods
			sendForward = true
		}
	}

	if c.serverDelta == nil {
		c.server.Send(protocol.NewServerUpdateMsg(dPrime, c.serverRev))
		c.serverDelta = dPrime
		c.clientDelta = identitySeq(int(dPrime.TargetLen()))
	} else {
		composed, err := c.clientDelta.Compose(dPrime)
		if err != nil {
			return fmt.Errorf("client: composing pending submission: %w", err)
		}
		c.clientDelta = composed
	}

	newFile, err := dPrime.Apply(c.file)
	if err != nil {
		return fmt.Errorf("client: applying ide update to canonical document: %w", err)
	}
	c.file = newFile

	// The Ack for this Update goes out before the re-expressed forward.
	c.ide.Send(protocol.NewIdeAckMsg())
	if sendForward {
		c.ide.Send(protocol.NewIdeUpdateMsg(forward))
	}
	return nil
}

// buildDelta translates an ordered batch of TextModifications into a
// single OT delta against doc, returning the delta and the document that
// results from applying it (SPEC_FULL.md §4.3.2, §4.4).
func (c *Client) buildDelta(doc string, mods []protocol.TextModification) (*ot.OperationSeq, string, error) {
	d := identitySeq(len([]rune(doc)))

	for _, m := range mods {
		cpOffset, cpDelete, err := c.resolveOffsetDelete(doc, m)
		if err != nil {
			return nil, "", err
		}

		runes := []rune(doc)
		step := ot.NewOperationSeq()
		if cpOffset > 0 {
			step.Retain(uint64(cpOffset))
		}
		if cpDelete > 0 {
			step.Delete(uint64(cpDelete))
		}
		if m.Text != "" {
			step.Insert(m.Text)
		}
		remaining := len(runes) - cpOffset - cpDelete
		if remaining > 0 {
			step.Retain(uint64(remaining))
		}

		newDoc, err := step.Apply(doc)
		if err != nil {
			return nil, "", fmt.Errorf("apply modification: %w", err)
		}

		composed, err := d.Compose(step)
		if err != nil {
			return nil, "", fmt.Errorf("compose modification: %w", err)
		}
		d = composed
		doc = newDoc
	}

	return d, doc, nil
}

// --- remote ack (SPEC_FULL.md §4.3.3) ---

func (c *Client) onServerAck() error {
	if c.serverDelta == nil {
		return fmt.Errorf("client: unexpected ack with no in-flight submission")
	}

	c.serverRev++
	if c.clientDelta.IsNoop() {
		c.serverDelta = nil
	} else {
		c.server.Send(protocol.NewServerUpdateMsg(c.clientDelta, c.serverRev))
		c.serverDelta = c.clientDelta
		c.clientDelta = identitySeq(int(c.clientDelta.TargetLen()))
	}
	return nil
}

// --- remote edit (SPEC_FULL.md §4.3.4) ---

func (c *Client) onServerUpdate(req *protocol.ModifRequest) error {
	r := req.Delta

	s := c.serverDelta
	if s == nil {
		s = identitySeq(int(r.BaseLen()))
	}

	r1, sPrime, err := r.Transform(s)
	if err != nil {
		return fmt.Errorf("client: transforming remote edit against in-flight submission: %w", err)
	}

	r2, cPrime, err := r1.Transform(c.clientDelta)
	if err != nil {
		return fmt.Errorf("client: transforming remote edit against pending edits: %w", err)
	}

	if c.serverDelta != nil {
		c.serverDelta = sPrime
	}
	c.clientDelta = cPrime
	c.serverRev = req.RevNum

	if c.ideDelta == nil {
		mods, err := c.translateForIde(r2, c.ideDoc)
		if err != nil {
			return fmt.Errorf("client: translating remote edit for ide: %w", err)
		}
		c.ide.Send(protocol.NewIdeUpdateMsg(mods))
		c.ideDelta = r2
		c.idePending = identitySeq(int(r2.TargetLen()))
	} else {
		composed, err := c.idePending.Compose(r2)
		if err != nil {
			return fmt.Errorf("client: queuing remote edit for ide: %w", err)
		}
		c.idePending = composed
	}

	newFile, err := r2.Apply(c.file)
	if err != nil {
		return fmt.Errorf("client: applying remote edit to canonical document: %w", err)
	}
	c.file = newFile
	return nil
}

// translateForIde walks delta's primitive operations over doc (the
// document delta is based against), collapsing adjacent delete/insert
// pairs into single TextModifications expressed in the client's
// configured Format (SPEC_FULL.md §4.3.4, §4.4). Each offset counts
// against doc with the earlier entries of the list already applied.
func (c *Client) translateForIde(delta *ot.OperationSeq, doc string) ([]protocol.TextModification, error) {
	offsets := codepointByteOffsets(doc)

	var mods []protocol.TextModification
	cp := 0
	shift := 0 // net size change, in Format units, of the entries emitted so far
	ops := delta.Ops()

	for i := 0; i < len(ops); {
		switch v := ops[i].(type) {
		case ot.Retain:
			cp += int(v.N)
			i++
		case ot.Delete, ot.Insert:
			delCount := 0
			insText := ""
			for i < len(ops) {
				if d, ok := ops[i].(ot.Delete); ok {
					delCount += int(d.N)
					i++
					continue
				}
				if ins, ok := ops[i].(ot.Insert); ok {
					insText += ins.Text
					i++
					continue
				}
				break
			}

			delUnits := unitLen(offsets, cp, delCount, c.format)
			mods = append(mods, protocol.TextModification{
				Offset: unitOffset(offsets, cp, c.format) + shift,
				Delete: delUnits,
				Text:   insText,
			})
			insUnits := len(insText)
			if c.format == protocol.FormatChars {
				insUnits = len([]rune(insText))
			}
			shift += insUnits - delUnits
			cp += delCount
		default:
			return nil, fmt.Errorf("unexpected op type %T", v)
		}
	}
	return mods, nil
}

// --- ide ack (SPEC_FULL.md §4.3.5) ---

func (c *Client) onIdeAck() error {
	if c.ideDelta == nil {
		logging.Debug("client: ide ack received with no outstanding update")
		return nil
	}

	newIdeDoc, err := c.ideDelta.Apply(c.ideDoc)
	if err != nil {
		return fmt.Errorf("client: applying acked forward to ide document: %w", err)
	}
	c.ideDoc = newIdeDoc

	if c.idePending.IsNoop() {
		c.ideDelta = nil
		return nil
	}

	c.ideDelta = c.idePending
	c.idePending = identitySeq(int(c.idePending.TargetLen()))

	mods, err := c.translateForIde(c.ideDelta, c.ideDoc)
	if err != nil {
		return fmt.Errorf("client: translating queued forward for ide: %w", err)
	}
	c.ide.Send(protocol.NewIdeUpdateMsg(mods))
	return nil
}

// identitySeq returns the no-op delta over an n-unit document.
func identitySeq(n int) *ot.OperationSeq {
	s := ot.NewOperationSeq()
	if n > 0 {
		s.Retain(uint64(n))
	}
	return s
}
