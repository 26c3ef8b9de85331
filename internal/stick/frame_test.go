package stick

import (
	"bytes"
	"errors"
	"testing"
)

func TestCRC16KnownValue(t *testing.T) {
	// Standard CRC16/XMODEM check value.
	if got := crc16([]byte("123456789")); got != 0x31C3 {
		t.Errorf("crc16 = %04X, want 31C3", got)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte("000AB43C")

	frame := EncodeFrame(payload)
	if !bytes.HasPrefix(frame, frameHeader) {
		t.Error("frame missing header")
	}
	if !bytes.HasSuffix(frame, frameFooter) {
		t.Error("frame missing footer")
	}

	got, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestDecodeFrameSkipsLeadingNoise(t *testing.T) {
	frame := append([]byte{0x83}, EncodeFrame([]byte("0011"))...)

	got, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got) != "0011" {
		t.Errorf("payload = %q", got)
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	good := EncodeFrame([]byte("0011"))

	corrupted := bytes.Clone(good)
	corrupted[len(frameHeader)] = 'F' // flip a payload nibble

	tests := []struct {
		name string
		line []byte
	}{
		{"missing header", []byte("0011ABCD\r\n")},
		{"short frame", append(append([]byte{}, frameHeader...), '0', '0', '\r', '\n')},
		{"checksum mismatch", corrupted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeFrame(tt.line); !errors.Is(err, ErrFrame) {
				t.Errorf("err = %v, want ErrFrame", err)
			}
		})
	}
}
