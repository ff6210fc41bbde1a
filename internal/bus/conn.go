package bus

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// maxFrame bounds a single message. Dump fields such as backtraces travel in
// report bodies, so this is generous.
const maxFrame = 16 << 20

var (
	// ErrConnectionClosed reports a call that gave up on its connection.
	ErrConnectionClosed = errors.New("bus connection closed")
	// ErrFrameTooLarge reports an incoming message over the size limit.
	ErrFrameTooLarge = errors.New("bus frame too large")
)

// transport frames messages over a stream connection.
type transport struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
	timeout time.Duration
}

func newTransport(conn net.Conn) *transport {
	return &transport{conn: conn, reader: bufio.NewReaderSize(conn, 64<<10), timeout: 5 * time.Second}
}

func (t *transport) read() (Message, error) {
	for {
		line, err := t.readLine()
		if err != nil {
			return Message{}, err
		}
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return Message{}, fmt.Errorf("malformed bus message: %w", err)
		}
		return msg, nil
	}
}

func (t *transport) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := t.reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > maxFrame {
			return nil, ErrFrameTooLarge
		}
		if !isPrefix {
			return line, nil
		}
	}
}

func (t *transport) write(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode bus message: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.timeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.timeout))
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	_, err = t.conn.Write(data)
	return err
}

func (t *transport) close() error { return t.conn.Close() }
