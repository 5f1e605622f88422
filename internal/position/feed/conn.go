package feed

import (
	"bufio"
	"net"

	"github.com/phuslu/log"
)

// Conn is a daemon connection read through a buffer, so the first byte can be
// inspected before any frame is decoded.
type Conn struct {
	cid    uint64
	remote string
	serial string
	r      *bufio.Reader
	net.Conn
}

func NewConn(c net.Conn, cid uint64) *Conn {
	return &Conn{cid: cid, remote: c.RemoteAddr().String(), r: bufio.NewReader(c), Conn: c}
}

// StartsFrame waits for the first byte and reports whether it is START_BYTE.
// Nothing is consumed.
func (c *Conn) StartsFrame() (bool, error) {
	b, err := c.r.Peek(1)
	if err != nil {
		return false, err
	}
	return b[0] == START_BYTE, nil
}

func (c *Conn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// bind tags the connection with the device serial from its LOGIN frame.
func (c *Conn) bind(serial string) {
	c.serial = serial
}

func (c *Conn) MarshalObject(e *log.Entry) {
	e.Uint64("cid", c.cid).Str("remote", c.remote)
	if c.serial != "" {
		e.Str("serial", c.serial)
	}
}
