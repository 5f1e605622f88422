package feed

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var errBadFrame = errors.New("bad frame")

// ReadMessage reads one frame: start byte, protocol, little-endian payload
// length, payload, '\n'.
func ReadMessage(r io.Reader, msg *FrameMessage) error {
	var length int

	if len(msg.Buffer) < 5 {
		return fmt.Errorf("buffer too small")
	}

	_, err := io.ReadFull(r, msg.Buffer[:4])
	if err != nil {
		return err
	}
	if msg.Buffer[0] != START_BYTE {
		return errBadFrame
	}
	length = int(binary.LittleEndian.Uint16(msg.Buffer[2:4]))
	msg.Protocol = msg.Buffer[1]
	msg.Length = length + 5

	if len(msg.Buffer) < msg.Length {
		return fmt.Errorf("buffer too small")
	}

	_, err = io.ReadFull(r, msg.Buffer[4:msg.Length])
	if err != nil {
		return err
	}
	if msg.Buffer[msg.Length-1] != '\n' {
		return errBadFrame
	}

	msg.Payload = msg.Buffer[4 : msg.Length-1]
	return nil
}

func WriteMessage(w io.Writer, protocol byte, payload []byte) error {
	if len(payload) > math.MaxUint16 {
		return fmt.Errorf("payload too large: %d", len(payload))
	}
	b := make([]byte, 4, len(payload)+5)
	b[0] = START_BYTE
	b[1] = protocol
	binary.LittleEndian.PutUint16(b[2:4], uint16(len(payload)))
	b = append(b, payload...)
	b = append(b, '\n')
	_, err := w.Write(b)
	return err
}
