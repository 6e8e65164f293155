// Package net defines the addressed-messaging contract every causality
// engine sends and receives through: SendMessage for unicast/broadcast,
// Recv for inbound delivery into an event.Session, and the length-prefixed
// framing codec both transports in this package speak. Grounded on
// original_source/src/net/session/tcp.rs's Protocol/Buf contract, adapted
// from tokio async traits to plain Go interfaces driven by goroutines.
package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameLen bounds a single frame's payload length, guarding against a
// malformed or hostile length prefix forcing an unbounded allocation.
const MaxFrameLen = 16 << 20 // 16 MiB

// ErrFrameTooLarge is returned by ReadFrame when a length prefix exceeds
// MaxFrameLen.
var ErrFrameTooLarge = errors.New("net: frame exceeds maximum length")

// Addr is any comparable destination a transport knows how to dial.
type Addr interface {
	comparable
}

// All is the broadcast destination: send to every configured peer.
type All struct{}

// SendMessage is the addressed-send capability: unicast to one Addr, or
// broadcast via All.
type SendMessage[A any, M any] interface {
	Send(dest A, message M) error
}

// Recv wraps an inbound message for delivery into an event.Session, mirroring
// the reference implementation's Recv<M> event wrapper.
type Recv[M any] struct {
	Message M
}

// WriteFrame writes one length-prefixed frame: an 8-byte big-endian length
// followed by payload, matching the wire contract write_u64 + write_all in
// the reference transport.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("net: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("net: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame written by WriteFrame. It
// returns io.EOF unchanged when the peer closed the connection cleanly
// between frames, so callers can distinguish a clean hangup from a
// mid-frame error.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint64(lenBuf[:])
	if length > MaxFrameLen {
		return nil, fmt.Errorf("%w: %d", ErrFrameTooLarge, length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("net: read frame payload: %w", err)
	}
	return buf, nil
}
