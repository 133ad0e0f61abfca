package tracker

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"net/url"
	"time"
)

const (
	udpTimeout   = 10 * time.Second
	udpProtocol  = 0x41727101980
	actionConnect  = 0
	actionAnnounce = 1
)

// announceUDP performs the BEP-15 connect/announce exchange. Each step uses
// its own datagram socket, closed after one response or on error; there is
// no retransmission, so a single timeout is fatal to this tracker.
func announceUDP(ctx context.Context, u *url.URL, params Params) ([]Endpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("tracker: resolve udp addr: %w", err)
	}

	connID, err := udpConnect(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("tracker: udp connect: %w", err)
	}

	return udpAnnounce(ctx, addr, connID, params)
}

func randomTransactionID() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func udpRoundTrip(ctx context.Context, addr *net.UDPAddr, request []byte, minReplyLen int) ([]byte, error) {
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline := time.Now().Add(udpTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := conn.Write(request); err != nil {
		return nil, err
	}

	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	if n < minReplyLen {
		return nil, fmt.Errorf("tracker: udp reply too short: %d bytes", n)
	}
	return buf[:n], nil
}

// buildConnectRequest builds the fixed 16-byte connect request: the magic
// protocol_id, action 0, and the caller's transaction_id.
func buildConnectRequest(txID uint32) []byte {
	req := make([]byte, 16)
	binary.BigEndian.PutUint64(req[0:8], udpProtocol)
	binary.BigEndian.PutUint32(req[8:12], actionConnect)
	binary.BigEndian.PutUint32(req[12:16], txID)
	return req
}

func parseConnectResponse(resp []byte, txID uint32) (uint64, error) {
	action := binary.BigEndian.Uint32(resp[0:4])
	gotTxID := binary.BigEndian.Uint32(resp[4:8])
	if action != actionConnect || gotTxID != txID {
		return 0, fmt.Errorf("tracker: udp connect response mismatch")
	}
	return binary.BigEndian.Uint64(resp[8:16]), nil
}

// udpConnect sends the 16-byte connect request and returns the tracker's
// connection_id.
func udpConnect(ctx context.Context, addr *net.UDPAddr) (uint64, error) {
	txID, err := randomTransactionID()
	if err != nil {
		return 0, err
	}

	resp, err := udpRoundTrip(ctx, addr, buildConnectRequest(txID), 16)
	if err != nil {
		return 0, err
	}
	return parseConnectResponse(resp, txID)
}

// buildAnnounceRequest builds the fixed 98-byte announce request.
func buildAnnounceRequest(connID uint64, txID, key uint32, params Params) []byte {
	req := make([]byte, 98)
	binary.BigEndian.PutUint64(req[0:8], connID)
	binary.BigEndian.PutUint32(req[8:12], actionAnnounce)
	binary.BigEndian.PutUint32(req[12:16], txID)
	copy(req[16:36], params.InfoHash[:])
	copy(req[36:56], params.PeerID[:])
	binary.BigEndian.PutUint64(req[56:64], 0) // downloaded
	binary.BigEndian.PutUint64(req[64:72], uint64(params.Left))
	binary.BigEndian.PutUint64(req[72:80], 0) // uploaded
	binary.BigEndian.PutUint32(req[80:84], 0) // event
	binary.BigEndian.PutUint32(req[84:88], 0) // ip
	binary.BigEndian.PutUint32(req[88:92], key)
	binary.BigEndian.PutUint32(req[92:96], 0xFFFFFFFF) // num_want = -1
	binary.BigEndian.PutUint16(req[96:98], params.Port)
	return req
}

func parseAnnounceResponse(resp []byte, txID uint32) ([]Endpoint, error) {
	action := binary.BigEndian.Uint32(resp[0:4])
	gotTxID := binary.BigEndian.Uint32(resp[4:8])
	if action != actionAnnounce || gotTxID != txID {
		return nil, fmt.Errorf("tracker: udp announce response mismatch")
	}
	return parseCompactPeers(resp[20:]), nil
}

// udpAnnounce sends the 98-byte announce request and parses the trailing
// compact peer records from the response.
func udpAnnounce(ctx context.Context, addr *net.UDPAddr, connID uint64, params Params) ([]Endpoint, error) {
	txID, err := randomTransactionID()
	if err != nil {
		return nil, err
	}
	key, err := randomTransactionID()
	if err != nil {
		return nil, err
	}

	resp, err := udpRoundTrip(ctx, addr, buildAnnounceRequest(connID, txID, key, params), 20)
	if err != nil {
		return nil, err
	}
	return parseAnnounceResponse(resp, txID)
}
