package protocol

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/Raqibreyaz/synclet/internal/snapshot"
	"github.com/Raqibreyaz/synclet/internal/wire"
)

type staticProvider struct {
	snap snapshot.DirSnapshot
	fp   string
}

func (p staticProvider) Current() snapshot.DirSnapshot { return p.snap }
func (p staticProvider) Fingerprint() string           { return p.fp }

func TestSendFileFullDeliversWholeFile(t *testing.T) {
	senderRoot := t.TempDir()
	receiverRoot := t.TempDir()

	content := []byte("the quick brown fox jumps over the lazy dog")
	if err := os.WriteFile(filepath.Join(senderRoot, "f.txt"), content, 0644); err != nil {
		t.Fatal(err)
	}

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sender := NewSession(wire.New(client), senderRoot)
	receiver := NewSession(wire.New(server), receiverRoot)

	done := make(chan error, 1)
	go func() { done <- sender.SendFileFull("f.txt") }()

	serveErr := make(chan error, 1)
	go func() {
		tag, fields, err := receiver.Msg.Receive()
		if err != nil {
			serveErr <- err
			return
		}
		var sf wire.SendFile
		if err := wire.Decode(fields, &sf); err != nil {
			serveErr <- err
			return
		}
		if tag != wire.TagSendFile {
			serveErr <- err
			return
		}
		serveErr <- receiver.receiveSendFile(sf, func() {})
	}()

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if err := <-serveErr; err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(receiverRoot, "f.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("unexpected received content: %q", got)
	}
}

func TestPushModifiedChunksAppliesAddOp(t *testing.T) {
	senderRoot := t.TempDir()
	receiverRoot := t.TempDir()

	if err := os.WriteFile(filepath.Join(senderRoot, "f.txt"), []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(receiverRoot, "f.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sender := NewSession(wire.New(client), senderRoot)
	receiver := NewSession(wire.New(server), receiverRoot)

	mod := snapshot.FileModification{
		Filename: "f.txt",
		Ops: []snapshot.ChunkOp{
			{Kind: snapshot.OpAdd, Offset: 5, NewSize: 6, IsLast: true},
		},
	}

	done := make(chan error, 1)
	go func() { done <- sender.PushModifiedChunks("f.txt", mod) }()

	applyErr := make(chan error, 1)
	changed := make(chan struct{}, 1)
	go func() {
		tag, fields, err := receiver.Msg.Receive()
		if err != nil {
			applyErr <- err
			return
		}
		var mc wire.ModifiedChunk
		if err := wire.Decode(fields, &mc); err != nil {
			applyErr <- err
			return
		}
		if tag != wire.TagModifiedChunk {
			applyErr <- err
			return
		}
		applyErr <- receiver.receiveModifiedChunk(mc, func() { changed <- struct{}{} })
	}()

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if err := <-applyErr; err != nil {
		t.Fatal(err)
	}
	<-changed

	got, err := os.ReadFile(filepath.Join(receiverRoot, "f.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("unexpected finalized content: %q", got)
	}
}

func TestPullModificationFetchesFromPeerAndFinalizes(t *testing.T) {
	peerRoot := t.TempDir()
	localRoot := t.TempDir()

	if err := os.WriteFile(filepath.Join(peerRoot, "f.txt"), []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(localRoot, "f.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	puller := NewSession(wire.New(client), localRoot)
	peer := NewSession(wire.New(server), peerRoot)

	// Computed with the peer's copy as the new side, as reconcile does
	// before calling PullModification.
	mod := snapshot.FileModification{
		Filename: "f.txt",
		Ops: []snapshot.ChunkOp{
			{Kind: snapshot.OpAdd, Offset: 5, NewSize: 6, IsLast: true},
		},
	}

	serveErr := make(chan error, 1)
	go func() {
		tag, fields, err := peer.Msg.Receive()
		if err != nil {
			serveErr <- err
			return
		}
		if tag != wire.TagReqChunk {
			serveErr <- fmt.Errorf("unexpected tag %s", tag)
			return
		}
		var rc wire.ReqChunk
		if err := wire.Decode(fields, &rc); err != nil {
			serveErr <- err
			return
		}
		serveErr <- peer.respondReqChunk(rc)
	}()

	if err := puller.PullModification("f.txt", mod); err != nil {
		t.Fatal(err)
	}
	if err := <-serveErr; err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(localRoot, "f.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("unexpected pulled content: %q", got)
	}
}

func TestPullModificationAppliesRemoveOpWithoutFetch(t *testing.T) {
	localRoot := t.TempDir()

	if err := os.WriteFile(filepath.Join(localRoot, "f.txt"), []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	puller := NewSession(wire.New(client), localRoot)

	// A REMOVE op carries no payload, so PullModification must never
	// issue a REQ_CHUNK for it.
	mod := snapshot.FileModification{
		Filename: "f.txt",
		Ops: []snapshot.ChunkOp{
			{Kind: snapshot.OpRemove, Offset: 5, OldSize: 6, IsLast: true},
		},
	}

	if err := puller.PullModification("f.txt", mod); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(localRoot, "f.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("unexpected content after remove: %q", got)
	}
}

func TestHandshakeAcceptsValidOtp(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sender := NewSession(wire.New(client), t.TempDir())
	receiver := NewSession(wire.New(server), t.TempDir())

	recvErr := make(chan error, 1)
	go func() {
		recvErr <- receiver.AwaitHandshakeOtp(func(token string) bool { return token == "good-otp" })
	}()

	if err := sender.SendHandshakeOtp("good-otp"); err != nil {
		t.Fatalf("expected handshake to succeed, got: %v", err)
	}
	if err := <-recvErr; err != nil {
		t.Fatalf("receiver side of handshake failed: %v", err)
	}
}

func TestHandshakeRejectsInvalidOtp(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sender := NewSession(wire.New(client), t.TempDir())
	receiver := NewSession(wire.New(server), t.TempDir())

	recvErr := make(chan error, 1)
	go func() {
		recvErr <- receiver.AwaitHandshakeOtp(func(token string) bool { return token == "good-otp" })
	}()

	if err := sender.SendHandshakeOtp("wrong-otp"); err == nil {
		t.Fatal("expected handshake to be rejected")
	}
	if err := <-recvErr; err == nil {
		t.Fatal("expected receiver to report the rejected handshake")
	}
}

func TestSnapshotIntrospectionRoundTrip(t *testing.T) {
	root := t.TempDir()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	requester := NewSession(wire.New(client), root)
	responder := NewSession(wire.New(server), root)
	provider := staticProvider{snap: snapshot.NewDirSnapshot(), fp: "fp-xyz"}

	serveErr := make(chan error, 1)
	go func() {
		tag, fields, err := responder.Msg.Receive()
		if err != nil {
			serveErr <- err
			return
		}
		serveErr <- responder.dispatch(tag, fields, provider, func() {})
	}()

	got, err := requester.RequestSnapVersion()
	if err != nil {
		t.Fatal(err)
	}
	if err := <-serveErr; err != nil {
		t.Fatal(err)
	}
	if got != "fp-xyz" {
		t.Fatalf("unexpected fingerprint: %q", got)
	}
}
