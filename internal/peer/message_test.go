package peer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireFramingKeepAliveThenHave(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x00, 0x00, // keep-alive
		0x00, 0x00, 0x00, 0x05, 0x04, 0x00, 0x00, 0x00, 0x07, // have(7)
	}
	r := bytes.NewReader(data)

	msg, err := ReadMessage(r)
	require.NoError(t, err)
	assert.Nil(t, msg) // keep-alive

	msg, err = ReadMessage(r)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, MsgHave, msg.ID)

	index, err := parseHave(msg)
	require.NoError(t, err)
	assert.Equal(t, 7, index)

	_, err = ReadMessage(r)
	assert.Error(t, err) // EOF, no more frames
}

func TestRequestSerialize(t *testing.T) {
	msg := newRequest(1, 16384, 16384)
	got := msg.Serialize()
	want := []byte{
		0, 0, 0, 13, // length
		6,          // id
		0, 0, 0, 1, // index
		0, 0, 64, 0, // offset
		0, 0, 64, 0, // length
	}
	assert.Equal(t, want, got)
}
