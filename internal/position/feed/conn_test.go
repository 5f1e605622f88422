package feed

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartsFrameDoesNotConsume(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	c := NewConn(server, 7)
	defer c.Close()

	go client.Write([]byte{START_BYTE, LOGIN})

	ok, err := c.StartsFrame()
	require.NoError(t, err)
	assert.True(t, ok)

	b := make([]byte, 2)
	_, err = io.ReadFull(c, b)
	require.NoError(t, err)
	assert.Equal(t, []byte{START_BYTE, LOGIN}, b)
}

func TestStartsFrameRejectsOtherBytes(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	c := NewConn(server, 8)
	defer c.Close()

	go client.Write([]byte("GET / HTTP/1.1\r\n"))

	ok, err := c.StartsFrame()
	require.NoError(t, err)
	assert.False(t, ok)
}
