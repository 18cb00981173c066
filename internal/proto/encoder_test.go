package proto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCommandFraming(t *testing.T) {
	var buf bytes.Buffer
	err := EncodeCommand(&buf, [][]byte{[]byte("SET"), []byte("k"), []byte("v")})
	require.NoError(t, err)
	assert.Equal(t, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n", buf.String())
}

func TestEncodeCommandBinarySafe(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{0x00, '\r', '\n', 0xff}
	require.NoError(t, EncodeCommand(&buf, [][]byte{[]byte("SET"), []byte("k"), payload}))

	var p Parser
	p.Feed(buf.Bytes())
	r, ok, err := p.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, r.Array, 3)
	assert.Equal(t, payload, r.Array[2].Bulk)
}

func TestEncodedLenMatchesActualOutput(t *testing.T) {
	args := [][]byte{[]byte("MSET"), []byte("a"), []byte("1"), []byte("b"), []byte("22")}
	var buf bytes.Buffer
	require.NoError(t, EncodeCommand(&buf, args))
	assert.Equal(t, EncodedLen(args), buf.Len())
}
