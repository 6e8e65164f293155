package tcp

import (
	"encoding/json"
	"net"
	"testing"
	"time"
)

func jsonCodec() Codec[string] {
	return Codec[string]{
		Encode: func(s string) ([]byte, error) { return json.Marshal(s) },
		Decode: func(b []byte) (string, error) {
			var s string
			err := json.Unmarshal(b, &s)
			return s, err
		},
	}
}

type captureSink struct {
	ch chan string
}

func (c *captureSink) Recv(from string, message string) error {
	c.ch <- message
	return nil
}

func TestPreambleRoundTrip(t *testing.T) {
	cases := []string{"", "127.0.0.1:9000"}
	for _, addr := range cases {
		buf, err := encodePreamble(addr)
		if err != nil {
			t.Fatalf("encodePreamble(%q): %v", addr, err)
		}
		if got := decodePreamble(buf); got != addr {
			t.Fatalf("round-trip mismatch: got %q want %q", got, addr)
		}
	}
}

func TestPreambleRejectsOversizedAddress(t *testing.T) {
	long := make([]byte, PreambleLen)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := encodePreamble(string(long)); err == nil {
		t.Fatal("expected an error for an oversized reply address")
	}
}

func TestTransportDuplexRoundTrip(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	sink := &captureSink{ch: make(chan string, 1)}
	server := NewTransport("", jsonCodec(), sink)
	server.Listen(listener)

	clientSink := &captureSink{ch: make(chan string, 1)}
	client := NewTransport("", jsonCodec(), clientSink)
	defer client.Close()

	if err := client.Send(listener.Addr().String(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case got := <-sink.ch:
		if got != "hello" {
			t.Fatalf("got %q want hello", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive message")
	}
}

func TestSimplexSenderDeliversToDuplexListener(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	sink := &captureSink{ch: make(chan string, 1)}
	server := NewTransport("", jsonCodec(), sink)
	server.Listen(listener)

	sender := NewSimplexSender(jsonCodec())
	if err := sender.Send(listener.Addr().String(), "simplex-hello"); err != nil {
		t.Fatalf("simplex send: %v", err)
	}

	select {
	case got := <-sink.ch:
		if got != "simplex-hello" {
			t.Fatalf("got %q want simplex-hello", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for simplex message")
	}
}
