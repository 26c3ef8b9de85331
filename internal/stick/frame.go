package stick

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Wire framing for the USB stick. Every message is an ASCII-hex payload
// wrapped in a fixed preamble and a CRLF footer, with a CRC16 (XMODEM)
// over the payload appended as four hex characters. Drivers built on
// Transport encode requests and decode response lines through these
// helpers; the command semantics above the framing stay with the driver.

var (
	frameHeader = []byte{0x05, 0x05, 0x03, 0x03}
	frameFooter = []byte{0x0d, 0x0a}
)

// ErrFrame marks a malformed or corrupted response frame.
var ErrFrame = fmt.Errorf("bad stick frame")

// EncodeFrame wraps an ASCII-hex payload into a wire frame.
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, 0, len(frameHeader)+len(payload)+4+len(frameFooter))
	buf = append(buf, frameHeader...)
	buf = append(buf, payload...)
	buf = append(buf, []byte(fmt.Sprintf("%04X", crc16(payload)))...)
	buf = append(buf, frameFooter...)
	return buf
}

// DecodeFrame strips the framing from a response line and verifies the
// checksum, returning the bare payload. Sticks occasionally prefix a line
// with noise bytes; anything before the header is discarded.
func DecodeFrame(line []byte) ([]byte, error) {
	i := bytes.Index(line, frameHeader)
	if i < 0 {
		return nil, fmt.Errorf("%w: missing header", ErrFrame)
	}
	body := bytes.TrimSuffix(line[i+len(frameHeader):], frameFooter)
	body = bytes.TrimRight(body, "\r\n")
	if len(body) < 4 {
		return nil, fmt.Errorf("%w: short frame", ErrFrame)
	}

	payload, sum := body[:len(body)-4], body[len(body)-4:]
	if _, err := hex.DecodeString(string(payload)); err != nil {
		return nil, fmt.Errorf("%w: non-hex payload", ErrFrame)
	}
	want := fmt.Sprintf("%04X", crc16(payload))
	if !bytes.EqualFold(sum, []byte(want)) {
		return nil, fmt.Errorf("%w: checksum mismatch (got %s, want %s)", ErrFrame, sum, want)
	}
	return payload, nil
}

// crc16 is CRC16/XMODEM: polynomial 0x1021, initial value 0.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
