package ipcpipe

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// maxMessageSize bounds a single frame, guarding a misbehaving peer from
// forcing an unbounded allocation.
const maxMessageSize = 16 << 20

// Message is one decoded request or response: a header naming the verb
// (or response literal) and an opaque body that may itself hold further
// NUL-separated fields.
type Message struct {
	Header string
	Body   []byte
}

// writeFrame encodes msg as a 4-byte little-endian length prefix
// followed by `Header\0Body`.
func writeFrame(w io.Writer, msg Message) error {
	payload := make([]byte, 0, len(msg.Header)+1+len(msg.Body))
	payload = append(payload, msg.Header...)
	payload = append(payload, 0)
	payload = append(payload, msg.Body...)

	if len(payload) > maxMessageSize {
		return fmt.Errorf("ipcpipe: outgoing message too large (%d bytes)", len(payload))
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("ipcpipe: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("ipcpipe: write payload: %w", err)
	}
	return nil
}

// readFrame decodes one length-prefixed, NUL-delimited message from r.
func readFrame(r *bufio.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxMessageSize {
		return Message{}, fmt.Errorf("ipcpipe: incoming message too large (%d bytes)", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, fmt.Errorf("ipcpipe: read payload: %w", err)
	}

	nul := -1
	for i, b := range payload {
		if b == 0 {
			nul = i
			break
		}
	}
	if nul < 0 {
		return Message{}, fmt.Errorf("ipcpipe: frame missing header terminator")
	}
	return Message{Header: string(payload[:nul]), Body: payload[nul+1:]}, nil
}

// WriteMessage frames and writes one request or response to w.
func WriteMessage(w io.Writer, header string, body []byte) error {
	return writeFrame(w, Message{Header: header, Body: body})
}

// ReadMessage reads and unframes one request or response from r.
func ReadMessage(r io.Reader) (Message, error) {
	return readFrame(bufio.NewReader(r))
}
