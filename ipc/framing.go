package ipc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/talkberry/schema"
)

// Frames are a big-endian uint32 length prefix followed by a type ID tag
// and the cramberry-marshaled message. Callers serialize writes.

const frameHeaderSize = 4

// WriteFrame encodes msg with its type ID and writes it as one frame.
func WriteFrame(w io.Writer, typeID cramberry.TypeID, msg any) error {
	body, err := schema.EncodeMessage(typeID, msg)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	frame := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[frameHeaderSize:], body)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame and returns its type ID and marshaled payload.
func ReadFrame(r io.Reader, maxSize uint32) (cramberry.TypeID, []byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > maxSize {
		return 0, nil, fmt.Errorf("frame of %d bytes exceeds limit %d", size, maxSize)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}

	return schema.DecodeMessage(body)
}
