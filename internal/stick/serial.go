package stick

import (
	"bufio"
	"fmt"
	"log/slog"
	"time"

	"go.bug.st/serial"
)

// Transport is the serial channel a stick driver talks through.
// It owns the port handle and read buffering; framing and the command
// protocol belong to the driver.
type Transport struct {
	port   serial.Port
	reader *bufio.Reader
	path   string
	logger *slog.Logger
}

// OpenTransport opens the USB serial device. A failure to open maps to
// ErrPort so the lifecycle manager can classify it as a transport failure.
func OpenTransport(path string, baud int, logger *slog.Logger) (*Transport, error) {
	if baud == 0 {
		baud = 115200
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %v", path, ErrPort, err)
	}

	// USB CDC ACM: assert DTR/RTS so the stick firmware starts talking.
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)

	return &Transport{
		port:   port,
		reader: bufio.NewReader(port),
		path:   path,
		logger: logger,
	}, nil
}

// Write sends raw bytes to the stick.
func (t *Transport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

// ReadLine reads one CRLF-terminated response frame, honoring the deadline.
// A deadline expiry maps to ErrTimeout.
func (t *Transport) ReadLine(deadline time.Duration) ([]byte, error) {
	if err := t.port.SetReadTimeout(deadline); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		if len(line) == 0 {
			return nil, fmt.Errorf("read %s: %w", t.path, ErrTimeout)
		}
		return nil, fmt.Errorf("read %s: %w", t.path, err)
	}
	return line, nil
}

// WriteFrame encodes one ASCII-hex payload and sends it as a wire frame.
func (t *Transport) WriteFrame(payload []byte) error {
	if _, err := t.Write(EncodeFrame(payload)); err != nil {
		return fmt.Errorf("write %s: %w", t.path, err)
	}
	return nil
}

// ReadFrame reads the next response line and strips the framing.
func (t *Transport) ReadFrame(deadline time.Duration) ([]byte, error) {
	line, err := t.ReadLine(deadline)
	if err != nil {
		return nil, err
	}
	return DecodeFrame(line)
}

// Close releases the port. Safe to call on an already-closed transport.
func (t *Transport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", t.path, err)
	}
	return nil
}
