package peer

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageID identifies the payload shape of a peer wire message, per the
// standard BitTorrent peer protocol.
type MessageID uint8

const (
	MsgChoke         MessageID = 0
	MsgUnchoke       MessageID = 1
	MsgInterested    MessageID = 2
	MsgNotInterested MessageID = 3
	MsgHave          MessageID = 4
	MsgBitfield      MessageID = 5
	MsgRequest       MessageID = 6
	MsgPiece         MessageID = 7
	MsgCancel        MessageID = 8
)

func (id MessageID) String() string {
	switch id {
	case MsgChoke:
		return "choke"
	case MsgUnchoke:
		return "unchoke"
	case MsgInterested:
		return "interested"
	case MsgNotInterested:
		return "not_interested"
	case MsgHave:
		return "have"
	case MsgBitfield:
		return "bitfield"
	case MsgRequest:
		return "request"
	case MsgPiece:
		return "piece"
	case MsgCancel:
		return "cancel"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
}

// Message is a parsed peer wire message: an id plus its raw payload body.
// A nil *Message stands for a keep-alive: ReadMessage returns one for a
// zero-length frame, and Serialize encodes one as a zero-length frame.
type Message struct {
	ID      MessageID
	Payload []byte
}

// Serialize encodes m as length(u32 be) | id(u8) | payload.
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4) // keep-alive
	}
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// ReadMessage reads one frame from r: a 4-byte length prefix followed by
// that many payload bytes. A zero-length prefix (keep-alive) yields a nil
// Message and no error.
func ReadMessage(r io.Reader) (*Message, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length == 0 {
		return nil, nil
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return &Message{ID: MessageID(body[0]), Payload: body[1:]}, nil
}

func newInterested() *Message { return &Message{ID: MsgInterested} }

func newRequest(index, offset, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(offset))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &Message{ID: MsgRequest, Payload: payload}
}

// parseHave extracts the piece index from a Have message's payload.
func parseHave(msg *Message) (int, error) {
	if len(msg.Payload) != 4 {
		return 0, fmt.Errorf("peer: malformed have payload: %d bytes", len(msg.Payload))
	}
	return int(binary.BigEndian.Uint32(msg.Payload)), nil
}

// parsePiece extracts the piece index, block offset and data from a Piece
// message's payload.
func parsePiece(msg *Message) (index, offset int, data []byte, err error) {
	if len(msg.Payload) < 8 {
		return 0, 0, nil, fmt.Errorf("peer: malformed piece payload: %d bytes", len(msg.Payload))
	}
	index = int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	offset = int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	data = msg.Payload[8:]
	return index, offset, data, nil
}
