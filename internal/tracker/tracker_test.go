package tracker

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorent/leech/internal/bencode"
	"github.com/gorent/leech/internal/metainfo"
)

func TestParseCompactPeers(t *testing.T) {
	raw := []byte{10, 0, 0, 1, 0x1A, 0xE1, 10, 0, 0, 2, 0x1A, 0xE2}

	peers := parseCompactPeers(raw)

	require := assert.New(t)
	require.Len(peers, 2)
	require.True(peers[0].IP.Equal(net.IPv4(10, 0, 0, 1)))
	require.Equal(0x1AE1, peers[0].Port)
	require.True(peers[1].IP.Equal(net.IPv4(10, 0, 0, 2)))
	require.Equal(0x1AE2, peers[1].Port)
}

func TestParseCompactPeersDropsZeroPort(t *testing.T) {
	raw := []byte{10, 0, 0, 1, 0, 0}

	peers := parseCompactPeers(raw)

	assert.Empty(t, peers)
}

func TestAnnounceFallsThroughOnPerTrackerFailure(t *testing.T) {
	infoDict := bencode.Dict([]bencode.DictEntry{
		{Key: []byte("length"), Value: bencode.Int(1)},
		{Key: []byte("name"), Value: bencode.StrFromString("a")},
		{Key: []byte("piece length"), Value: bencode.Int(1)},
		{Key: []byte("pieces"), Value: bencode.Str(make([]byte, 20))},
	})
	announceList := bencode.List([]bencode.Value{
		bencode.List([]bencode.Value{bencode.StrFromString("http://127.0.0.1:1")}),
		bencode.List([]bencode.Value{bencode.StrFromString("udp://127.0.0.1:1")}),
	})
	root := bencode.Dict([]bencode.DictEntry{
		{Key: []byte("announce-list"), Value: announceList},
		{Key: []byte("info"), Value: infoDict},
	})

	m, err := metainfo.Parse(bencode.Encode(root))
	require.NoError(t, err)

	peers := Announce(t.Context(), m, Params{Port: 6881, Left: 1}, nil)
	assert.Empty(t, peers)
}
