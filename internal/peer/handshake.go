package peer

import (
	"fmt"
	"io"
)

const protocolIdentifier = "BitTorrent protocol"

// handshake is the 68-byte greeting exchanged at the start of every peer
// TCP connection: 1-byte length prefix, the 19-byte protocol literal, 8
// reserved zero bytes, the 20-byte info hash and the 20-byte peer id.
type handshake struct {
	infoHash [20]byte
	peerID   [20]byte
}

func (h handshake) serialize() []byte {
	buf := make([]byte, 0, 68)
	buf = append(buf, byte(len(protocolIdentifier)))
	buf = append(buf, protocolIdentifier...)
	buf = append(buf, make([]byte, 8)...)
	buf = append(buf, h.infoHash[:]...)
	buf = append(buf, h.peerID[:]...)
	return buf
}

func readHandshake(r io.Reader) (handshake, error) {
	buf := make([]byte, 68)
	if _, err := io.ReadFull(r, buf); err != nil {
		return handshake{}, err
	}
	pstrlen := int(buf[0])
	if pstrlen != len(protocolIdentifier) || 1+pstrlen+8+20+20 != 68 {
		return handshake{}, fmt.Errorf("peer: unexpected handshake protocol length %d", pstrlen)
	}
	var h handshake
	copy(h.infoHash[:], buf[1+pstrlen+8:1+pstrlen+8+20])
	copy(h.peerID[:], buf[1+pstrlen+8+20:])
	return h, nil
}
