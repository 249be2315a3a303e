package authority

import (
	"testing"
	"time"

	ot "github.com/shiv248/operational-transformation-go"

	"github.com/otrelay/smartshare/internal/protocol"
)

// testPeer wraps one connected client's outbound channel for assertions.
type testPeer struct {
	id   int
	drop <-chan struct{}
	out  chan protocol.MessageServer
}

func connectPeer(t *testing.T, a *Authority) *testPeer {
	t.Helper()
	out := make(chan protocol.MessageServer, 8)
	id, drop := a.Connect(out)
	return &testPeer{id: id, drop: drop, out: out}
}

func (p *testPeer) recv(t *testing.T) protocol.MessageServer {
	t.Helper()
	select {
	case msg := <-p.out:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("client %d: timed out waiting for a message", p.id)
		return protocol.MessageServer{}
	}
}

func (p *testPeer) wantNone(t *testing.T) {
	t.Helper()
	select {
	case msg := <-p.out:
		t.Fatalf("client %d: expected no message, got %+v", p.id, msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func (p *testPeer) wantDropped(t *testing.T) {
	t.Helper()
	select {
	case <-p.drop:
	case <-time.After(time.Second):
		t.Fatalf("client %d: expected to be dropped, was not", p.id)
	}
}

func insertSeq(text string) *ot.OperationSeq {
	s := ot.NewOperationSeq()
	s.Insert(text)
	return s
}

func TestFirstUploadSeedsDocument(t *testing.T) {
	a := New()
	alice := connectPeer(t, a)
	bob := connectPeer(t, a)

	if !a.claimFirstUploader(alice.id) {
		t.Fatalf("alice should have been offered the upload")
	}
	if a.claimFirstUploader(bob.id) {
		t.Fatalf("bob should not also be offered the upload")
	}

	a.Message(alice.id, protocol.NewServerFileMsg("hello", 0))

	msg := bob.recv(t)
	if msg.ServerUpdate == nil || msg.ServerUpdate.RevNum != 1 {
		t.Fatalf("bob: expected ServerUpdate at rev 1, got %+v", msg)
	}
	got, err := msg.ServerUpdate.Delta.Apply("")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != "hello" {
		t.Fatalf("bob: expected document %q, got %q", "hello", got)
	}
	alice.wantNone(t) // the uploader doesn't get its own upload echoed back

	text, rev, err := a.CurrentFile()
	if err != nil {
		t.Fatalf("CurrentFile: %v", err)
	}
	if text != "hello" || rev != 1 {
		t.Fatalf("CurrentFile: got (%q, %d), want (%q, 1)", text, rev, "hello")
	}
}

func TestSecondUploadIsRejected(t *testing.T) {
	a := New()
	alice := connectPeer(t, a)
	bob := connectPeer(t, a)

	a.Message(alice.id, protocol.NewServerFileMsg("hello", 0))
	bob.recv(t) // drain the broadcast so it doesn't interfere

	a.Message(bob.id, protocol.NewServerFileMsg("goodbye", 0))
	bob.wantDropped(t)
}

func TestConcurrentEditsAreRebasedAndBroadcast(t *testing.T) {
	a := New()
	alice := connectPeer(t, a)
	bob := connectPeer(t, a)

	a.Message(alice.id, protocol.NewServerFileMsg("ab", 0))
	bob.recv(t)

	// Both submit against rev 1 (the upload): alice inserts "X" at the
	// front, bob inserts "Y" at the back.
	aliceDelta := ot.NewOperationSeq()
	aliceDelta.Insert("X")
	aliceDelta.Retain(2)

	bobDelta := ot.NewOperationSeq()
	bobDelta.Retain(2)
	bobDelta.Insert("Y")

	a.Message(alice.id, protocol.NewServerUpdateMsg(aliceDelta, 1))

	aliceAck := alice.recv(t)
	if !aliceAck.Ack {
		t.Fatalf("alice: expected an ack, got %+v", aliceAck)
	}
	bobSeesAlice := bob.recv(t)
	if bobSeesAlice.ServerUpdate == nil || bobSeesAlice.ServerUpdate.RevNum != 2 {
		t.Fatalf("bob: expected ServerUpdate at rev 2, got %+v", bobSeesAlice)
	}

	a.Message(bob.id, protocol.NewServerUpdateMsg(bobDelta, 1))

	bobAck := bob.recv(t)
	if !bobAck.Ack {
		t.Fatalf("bob: expected an ack, got %+v", bobAck)
	}
	aliceSeesBob := alice.recv(t)
	if aliceSeesBob.ServerUpdate == nil || aliceSeesBob.ServerUpdate.RevNum != 3 {
		t.Fatalf("alice: expected ServerUpdate at rev 3, got %+v", aliceSeesBob)
	}

	// Both should converge to the same final document once each applies
	// the updates it received against its own locally-applied state.
	text, rev, err := a.CurrentFile()
	if err != nil {
		t.Fatalf("CurrentFile: %v", err)
	}
	if rev != 3 {
		t.Fatalf("expected final revision 3, got %d", rev)
	}
	if text != "XabY" {
		t.Fatalf("expected converged document %q, got %q", "XabY", text)
	}
}

func TestInvalidRevisionIsRejected(t *testing.T) {
	a := New()
	alice := connectPeer(t, a)

	a.Message(alice.id, protocol.NewServerFileMsg("hello", 0))

	bogus := ot.NewOperationSeq()
	bogus.Retain(5)
	a.Message(alice.id, protocol.NewServerUpdateMsg(bogus, 7))

	alice.wantDropped(t)
}

func TestAckGoesOnlyToSender(t *testing.T) {
	a := New()
	alice := connectPeer(t, a)
	bob := connectPeer(t, a)

	a.Message(alice.id, protocol.NewServerFileMsg("hi", 0))
	bob.recv(t)

	d := ot.NewOperationSeq()
	d.Retain(2)
	d.Insert("!")
	a.Message(alice.id, protocol.NewServerUpdateMsg(d, 1))

	ack := alice.recv(t)
	if !ack.Ack {
		t.Fatalf("alice: expected ack, got %+v", ack)
	}
	update := bob.recv(t)
	if update.Ack {
		t.Fatalf("bob: should not receive an ack")
	}
}
