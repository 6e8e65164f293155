// Package tcp implements the two TCP transports grounded on
// original_source/src/net/session/tcp.rs: a persistent duplex Transport that
// reuses one connection per peer and exchanges a 16-byte preamble encoding
// an optional reply address, and a SimplexSender that opens one ephemeral
// connection per outbound message — supplemented from the reference
// implementation's `simplex` module for broadcast-heavy workloads where
// keeping every peer connection open is wasteful. Both speak the same
// length-prefixed framing (net.WriteFrame/net.ReadFrame) and are
// interoperable: a message sent by one can be received by the other.
package tcp

import (
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/tos-network/vclock/internal/vlog"
	vnet "github.com/tos-network/vclock/net"
)

// PreambleLen is the fixed handshake prefix length every connection writes
// before any framed payload, encoding an optional reply address.
const PreambleLen = 16

// Codec converts between application messages and their wire bytes. Callers
// typically use encoding/json or encoding/gob; vclock uses JSON throughout
// to stay consistent with the original_source kvstore's JSON-encoded ops.
type Codec[M any] struct {
	Encode func(M) ([]byte, error)
	Decode func([]byte) (M, error)
}

func encodePreamble(addr string) ([PreambleLen]byte, error) {
	var buf [PreambleLen]byte
	if addr == "" {
		return buf, nil
	}
	if len(addr) > PreambleLen-1 {
		return buf, fmt.Errorf("tcp: reply address %q exceeds %d bytes", addr, PreambleLen-1)
	}
	buf[0] = 1
	copy(buf[1:], addr)
	return buf, nil
}

func decodePreamble(buf [PreambleLen]byte) string {
	if buf[0] == 0 {
		return ""
	}
	end := 1
	for end < PreambleLen && buf[end] != 0 {
		end++
	}
	return string(buf[1:end])
}

// Sink receives a decoded inbound message along with the peer's declared
// reply address (empty if the connection is unidirectional).
type Sink[M any] interface {
	Recv(from string, message M) error
}

// Transport is a persistent, duplex TCP transport addressed by "host:port"
// strings. Each distinct peer gets at most one outbound connection, reused
// for every subsequent Send; writes are serialized per connection.
type Transport[M any] struct {
	selfAddr string
	codec    Codec[M]
	sink     Sink[M]

	mu    sync.Mutex
	conns map[string]*outboundConn
}

type outboundConn struct {
	mu   sync.Mutex
	conn net.Conn
}

// NewTransport constructs a Transport that advertises selfAddr as its reply
// address in the preamble of every outbound connection it opens. Pass an
// empty selfAddr for a client that never expects replies.
func NewTransport[M any](selfAddr string, codec Codec[M], sink Sink[M]) *Transport[M] {
	return &Transport[M]{
		selfAddr: selfAddr,
		codec:    codec,
		sink:     sink,
		conns:    make(map[string]*outboundConn),
	}
}

// Listen starts accepting inbound connections on listener, reading each one's
// preamble and then framed messages in a background goroutine per
// connection, until listener.Close is called or accept fails.
func (t *Transport[M]) Listen(listener net.Listener) {
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				vlog.Warn("tcp listener stopped accepting", "err", err)
				return
			}
			go t.acceptConn(conn)
		}
	}()
}

func (t *Transport[M]) acceptConn(conn net.Conn) {
	var preamble [PreambleLen]byte
	if _, err := io.ReadFull(conn, preamble[:]); err != nil {
		vlog.Warn("tcp accept preamble read failed", "remote", conn.RemoteAddr(), "err", err)
		conn.Close()
		return
	}
	remote := decodePreamble(preamble)
	t.readLoop(conn, remote)
}

func (t *Transport[M]) readLoop(conn net.Conn, remote string) {
	defer conn.Close()
	for {
		payload, err := vnet.ReadFrame(conn)
		if err != nil {
			if err != io.EOF {
				vlog.Warn("tcp read failed", "remote", remote, "err", err)
			}
			return
		}
		message, err := t.codec.Decode(payload)
		if err != nil {
			vlog.Warn("tcp decode failed", "remote", remote, "err", err)
			continue
		}
		if err := t.sink.Recv(remote, message); err != nil {
			vlog.Warn("tcp sink rejected message", "remote", remote, "err", err)
			return
		}
	}
}

// Send delivers message to dest, dialing and caching a new connection on
// first use.
func (t *Transport[M]) Send(dest string, message M) error {
	payload, err := t.codec.Encode(message)
	if err != nil {
		return fmt.Errorf("tcp: encode: %w", err)
	}
	oc, err := t.connFor(dest)
	if err != nil {
		return err
	}
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if err := vnet.WriteFrame(oc.conn, payload); err != nil {
		oc.conn.Close()
		t.mu.Lock()
		delete(t.conns, dest)
		t.mu.Unlock()
		return err
	}
	return nil
}

func (t *Transport[M]) connFor(dest string) (*outboundConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if oc, ok := t.conns[dest]; ok {
		return oc, nil
	}
	conn, err := net.Dial("tcp", dest)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", dest, err)
	}
	preamble, err := encodePreamble(t.selfAddr)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(preamble[:]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tcp: write preamble to %s: %w", dest, err)
	}
	oc := &outboundConn{conn: conn}
	t.conns[dest] = oc
	go t.readLoop(conn, dest)
	return oc, nil
}

// Close closes every cached outbound connection.
func (t *Transport[M]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for dest, oc := range t.conns {
		oc.conn.Close()
		delete(t.conns, dest)
	}
}

// SimplexSender is a stateless SendMessage that opens one ephemeral
// connection per message, writing a no-reply-address preamble then exactly
// one frame before closing — the supplemented simplex transport from
// original_source, for broadcast-heavy workloads where N persistent
// connections are wasteful. It never accepts inbound connections; pair it
// with a Transport.Listen on the receiving side. SimplexSender is safe for
// concurrent use.
type SimplexSender[M any] struct {
	codec Codec[M]
}

// NewSimplexSender constructs a SimplexSender using codec to encode outbound
// messages.
func NewSimplexSender[M any](codec Codec[M]) *SimplexSender[M] {
	return &SimplexSender[M]{codec: codec}
}

// Send dials dest, writes the preamble and one frame, and closes the
// connection. It blocks only for the duration of that single round trip;
// callers wanting fire-and-forget semantics should call it from a goroutine
// or the worker pool.
func (s *SimplexSender[M]) Send(dest string, message M) error {
	payload, err := s.codec.Encode(message)
	if err != nil {
		return fmt.Errorf("tcp: simplex encode: %w", err)
	}
	conn, err := net.Dial("tcp", dest)
	if err != nil {
		return fmt.Errorf("tcp: simplex dial %s: %w", dest, err)
	}
	defer conn.Close()
	var preamble [PreambleLen]byte // zero value: no reply address
	if _, err := conn.Write(preamble[:]); err != nil {
		return fmt.Errorf("tcp: simplex write preamble to %s: %w", dest, err)
	}
	return vnet.WriteFrame(conn, payload)
}
