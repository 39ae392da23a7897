package ws

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// defaultMaxMessageSize bounds inbound frames when the gateway does not
// configure a limit. Envelopes are small JSON; a megabyte is already generous.
const defaultMaxMessageSize = 1 << 20

// readFrame reads one complete client frame and returns its opcode and
// unmasked payload. Client frames must be masked and fit within maxPayload;
// fragmented messages are rejected since every envelope fits a single frame.
func readFrame(conn net.Conn, maxPayload int64) (byte, []byte, error) {
	if maxPayload <= 0 {
		maxPayload = defaultMaxMessageSize
	}

	var header [2]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return 0, nil, err
	}

	fin := header[0]&0x80 != 0
	opcode := header[0] & 0x0F
	masked := header[1]&0x80 != 0

	if !fin {
		return 0, nil, fmt.Errorf("fragmented frames unsupported")
	}
	if !masked {
		return 0, nil, fmt.Errorf("client frames must be masked")
	}

	payloadLen, err := readPayloadLength(conn, header[1]&0x7F)
	if err != nil {
		return 0, nil, err
	}

	var maskKey [4]byte
	if _, err := io.ReadFull(conn, maskKey[:]); err != nil {
		return 0, nil, err
	}

	if payloadLen > maxPayload {
		return 0, nil, fmt.Errorf("frame of %d bytes exceeds limit of %d", payloadLen, maxPayload)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return 0, nil, err
	}
	for i := range payload {
		payload[i] ^= maskKey[i%4]
	}

	frameBytesRead.Add(float64(2 + 4 + payloadLen))
	return opcode, payload, nil
}

func readPayloadLength(conn net.Conn, short byte) (int64, error) {
	switch short {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(conn, ext[:]); err != nil {
			return 0, err
		}
		return int64(binary.BigEndian.Uint16(ext[:])), nil
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(conn, ext[:]); err != nil {
			return 0, err
		}
		length := binary.BigEndian.Uint64(ext[:])
		if length > 1<<62 {
			return 0, fmt.Errorf("frame length overflow")
		}
		return int64(length), nil
	default:
		return int64(short), nil
	}
}

// writeFrame writes one unmasked server frame.
func writeFrame(conn net.Conn, opcode byte, payload []byte, timeout time.Duration) error {
	header := appendFrameHeader(make([]byte, 0, 10), opcode, len(payload))

	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	if _, err := conn.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := conn.Write(payload); err != nil {
			return err
		}
	}
	if timeout > 0 {
		_ = conn.SetWriteDeadline(time.Time{})
	}

	frameBytesWritten.Add(float64(len(header) + len(payload)))
	return nil
}

func appendFrameHeader(header []byte, opcode byte, length int) []byte {
	header = append(header, 0x80|opcode)
	switch {
	case length < 126:
		header = append(header, byte(length))
	case length <= 0xFFFF:
		header = append(header, 126)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(length))
		header = append(header, ext[:]...)
	default:
		header = append(header, 127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(length))
		header = append(header, ext[:]...)
	}
	return header
}
