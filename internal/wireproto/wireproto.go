// Package wireproto implements the analyzer backend wire protocol: one
// JSON request written to a freshly dialed TCP connection, half-closed
// so the backend knows the request is complete, then one JSON reply
// read until the backend closes its end — grounded on
// shared/src/utils.rs::read_all in original_source, which reads a
// socket to EOF rather than a length-prefixed frame.
package wireproto

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ternarybob/arbor"
)

// BackendRequest is the framed JSON body sent to an analyzer backend
// for one object.
type BackendRequest struct {
	Object           interface{} `json:"object"`
	Symbols          []string    `json:"symbols"`
	RelationMetadata interface{} `json:"relation_metadata"`
	MaxRecursion     uint32      `json:"max_recursion"`
	TTLDeadlineUnix  float64     `json:"ttl_deadline_unix"`
	ObjectPath       string      `json:"object_path"`
}

// BackendChild describes one child the backend discovered while
// processing an object. Path is empty for a Failed Child: the relation
// is recorded with Symbols but no derived object.
type BackendChild struct {
	Path             string      `json:"path,omitempty"`
	ForcedType       string      `json:"forced_type,omitempty"`
	Symbols          []string    `json:"symbols"`
	RelationMetadata interface{} `json:"relation_metadata"`
	FailReason       string      `json:"fail_reason,omitempty"`
}

// BackendReply is the framed JSON reply an analyzer backend returns.
type BackendReply struct {
	Symbols        []string          `json:"symbols"`
	ObjectMetadata map[string]any    `json:"object_metadata"`
	Children       []BackendChild    `json:"children"`
}

// Call dials addr, writes req as JSON, half-closes the write side, and
// reads the reply to EOF. The caller's context bounds the whole
// exchange, not just the dial.
func Call(ctx context.Context, addr string, req BackendRequest) (BackendReply, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return BackendReply{}, fmt.Errorf("wireproto: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return BackendReply{}, fmt.Errorf("wireproto: marshal request: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return BackendReply{}, fmt.Errorf("wireproto: write request to %s: %w", addr, err)
	}
	if half, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := half.CloseWrite(); err != nil {
			return BackendReply{}, fmt.Errorf("wireproto: half-close %s: %w", addr, err)
		}
	}

	reply, err := io.ReadAll(conn)
	if err != nil {
		return BackendReply{}, fmt.Errorf("wireproto: read reply from %s: %w", addr, err)
	}

	var out BackendReply
	if err := json.Unmarshal(reply, &out); err != nil {
		return BackendReply{}, fmt.Errorf("wireproto: unmarshal reply from %s: %w", addr, err)
	}
	return out, nil
}

// Serve is the backend-side counterpart used by the reference
// cmd/analyzer-* binaries: it reads one request to EOF, calls handle,
// and writes the JSON reply before closing the connection.
func Serve(ctx context.Context, conn net.Conn, handle func(context.Context, BackendRequest) (BackendReply, error)) error {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Minute))

	body, err := io.ReadAll(conn)
	if err != nil {
		return fmt.Errorf("wireproto: read request: %w", err)
	}

	var req BackendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("wireproto: unmarshal request: %w", err)
	}

	reply, err := handle(ctx, req)
	if err != nil {
		return fmt.Errorf("wireproto: handler failed: %w", err)
	}

	out, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("wireproto: marshal reply: %w", err)
	}
	if _, err := conn.Write(out); err != nil {
		return fmt.Errorf("wireproto: write reply: %w", err)
	}
	return nil
}

// ListenAndServe accepts connections on addr until ctx is cancelled,
// handling each with Serve on its own goroutine. Every cmd/analyzer-*
// reference backend shares this accept loop so the binaries differ
// only in their handle function.
func ListenAndServe(ctx context.Context, addr string, logger arbor.ILogger, handle func(context.Context, BackendRequest) (BackendReply, error)) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("wireproto: listen %s: %w", addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("wireproto: accept: %w", err)
			}
		}
		go func() {
			if err := Serve(ctx, conn, handle); err != nil {
				logger.Warn().Err(err).Msg("wireproto: backend request failed")
			}
		}()
	}
}
