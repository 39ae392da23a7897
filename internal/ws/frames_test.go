package ws

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"
)

// maskedFrame builds a client-to-server frame with a fixed mask key.
func maskedFrame(opcode byte, payload []byte) []byte {
	maskKey := []byte{0x11, 0x22, 0x33, 0x44}

	frame := []byte{0x80 | opcode}
	length := len(payload)
	switch {
	case length < 126:
		frame = append(frame, 0x80|byte(length))
	case length <= 0xFFFF:
		frame = append(frame, 0x80|126)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(length))
		frame = append(frame, ext[:]...)
	default:
		frame = append(frame, 0x80|127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(length))
		frame = append(frame, ext[:]...)
	}
	frame = append(frame, maskKey...)
	for i, b := range payload {
		frame = append(frame, b^maskKey[i%4])
	}
	return frame
}

func readFromPipe(t *testing.T, raw []byte, maxPayload int64) (byte, []byte, error) {
	t.Helper()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write(raw)
	}()

	server.SetReadDeadline(time.Now().Add(time.Second))
	return readFrame(server, maxPayload)
}

func TestReadFrameUnmasksPayload(t *testing.T) {
	payload := []byte(`{"ns":"v2"}`)

	opcode, got, err := readFromPipe(t, maskedFrame(opcodeText, payload), 0)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if opcode != opcodeText {
		t.Fatalf("unexpected opcode %#x", opcode)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("unexpected payload %q", got)
	}
}

func TestReadFrameExtendedLength(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 600)

	opcode, got, err := readFromPipe(t, maskedFrame(opcodeBinary, payload), 0)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if opcode != opcodeBinary {
		t.Fatalf("unexpected opcode %#x", opcode)
	}
	if len(got) != len(payload) {
		t.Fatalf("unexpected payload length %d", len(got))
	}
}

func TestReadFrameRejectsUnmaskedClientFrame(t *testing.T) {
	frame := []byte{0x80 | opcodeText, 0x02, 'h', 'i'}
	if _, _, err := readFromPipe(t, frame, 0); err == nil {
		t.Fatal("expected unmasked frame rejected")
	}
}

func TestReadFrameRejectsOversizedFrame(t *testing.T) {
	frame := []byte{0x80 | opcodeText, 0x80 | 127}
	var ext [8]byte
	binary.BigEndian.PutUint64(ext[:], 2<<20)
	frame = append(frame, ext[:]...)
	frame = append(frame, 0x11, 0x22, 0x33, 0x44)

	if _, _, err := readFromPipe(t, frame, 0); err == nil {
		t.Fatal("expected oversized frame rejected against the default limit")
	}
}

func TestReadFrameHonorsConfiguredLimit(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 256)

	if _, _, err := readFromPipe(t, maskedFrame(opcodeText, payload), 128); err == nil {
		t.Fatal("expected frame above the configured limit rejected")
	}
	if _, got, err := readFromPipe(t, maskedFrame(opcodeText, payload), 512); err != nil || len(got) != 256 {
		t.Fatalf("expected frame within the limit accepted, got %d bytes, err %v", len(got), err)
	}
}

func TestWriteFrameProducesServerFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := []byte("pong")
	done := make(chan error, 1)
	go func() {
		done <- writeFrame(server, opcodePong, payload, time.Second)
	}()

	raw := make([]byte, 2+len(payload))
	client.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := readFull(client, raw); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("write frame: %v", err)
	}

	if raw[0] != 0x80|opcodePong {
		t.Fatalf("unexpected first byte %#x", raw[0])
	}
	// Server frames are never masked.
	if raw[1] != byte(len(payload)) {
		t.Fatalf("unexpected length byte %#x", raw[1])
	}
	if !bytes.Equal(raw[2:], payload) {
		t.Fatalf("unexpected payload %q", raw[2:])
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestEncodeClosePayload(t *testing.T) {
	payload := encodeClosePayload(closeNormalClosure, "bye")
	if len(payload) != 5 {
		t.Fatalf("unexpected payload length %d", len(payload))
	}
	if code := binary.BigEndian.Uint16(payload[:2]); code != closeNormalClosure {
		t.Fatalf("unexpected close code %d", code)
	}
	if string(payload[2:]) != "bye" {
		t.Fatalf("unexpected reason %q", payload[2:])
	}
}
