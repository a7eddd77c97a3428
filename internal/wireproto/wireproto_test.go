package wireproto

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestCallServeRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		Serve(context.Background(), conn, func(ctx context.Context, req BackendRequest) (BackendReply, error) {
			return BackendReply{
				Symbols: []string{"TESTED"},
				Children: []BackendChild{
					{Path: "/tmp/child1", Symbols: []string{"CHILD"}},
				},
			}, nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := Call(ctx, ln.Addr().String(), BackendRequest{ObjectPath: "/tmp/obj"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(reply.Symbols) != 1 || reply.Symbols[0] != "TESTED" {
		t.Fatalf("unexpected symbols: %+v", reply.Symbols)
	}
	if len(reply.Children) != 1 || reply.Children[0].Path != "/tmp/child1" {
		t.Fatalf("unexpected children: %+v", reply.Children)
	}
}

func TestCallFailsOnConnectionRefused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if _, err := Call(ctx, "127.0.0.1:1", BackendRequest{}); err == nil {
		t.Fatal("expected an error dialing a closed port")
	}
}
