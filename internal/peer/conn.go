// Package peer implements the per-peer connection state machine: the
// BitTorrent handshake, message framing and the request loop, component E
// of the download engine.
//
//	Dialing --success--> Handshaking --ok--> Exchanging --fin/err--> Closed
//	    |                     |                   |
//	    +--error/timeout------+--mismatch---------+------------------> Closed
package peer

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/gorent/leech/internal/bitfield"
	"github.com/gorent/leech/internal/piece"
)

const (
	dialTimeout      = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	frameTimeout     = 125 * time.Second
)

// PieceManager is the narrow, thread-safe interface a peer connection needs
// against the shared piece manager: two mutating operations and one read,
// plus Release for the bitfield-aware scheduling refinement and HasPiece so
// a connection can skip a just-finished piece before even consulting the
// peer's bitfield. Block is a plain triple, never a piece/block object, per
// the codec/manager boundary.
type PieceManager interface {
	NextRequest() (piece.Block, bool)
	BlockReceived(pieceIndex, offset int, data []byte) error
	Release(b piece.Block)
	HasPiece(index int) bool
	IsComplete() bool
}

// Conn is one peer's connection state and the four protocol booleans from
// the BitTorrent spec, initialized (am_choking=true, am_interested=false,
// peer_is_choking=true, peer_is_interested=false).
type Conn struct {
	endpoint    Endpoint
	localPeerID [20]byte
	infoHash    [20]byte
	numPieces   int
	mgr         PieceManager
	log         *zap.SugaredLogger

	amChoking        bool
	amInterested     bool
	peerIsChoking    bool
	peerIsInterested bool

	peerBitfield *bitfield.Bitfield
	pending      *piece.Block // at most one outstanding request
}

// New constructs a Conn ready to Run. It does not dial.
func New(endpoint Endpoint, localPeerID, infoHash [20]byte, numPieces int, mgr PieceManager, log *zap.SugaredLogger) *Conn {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Conn{
		endpoint:      endpoint,
		localPeerID:   localPeerID,
		infoHash:      infoHash,
		numPieces:     numPieces,
		mgr:           mgr,
		log:           log,
		amChoking:     true,
		peerIsChoking: true,
	}
}

// Run drives the full Dialing -> Handshaking -> Exchanging -> Closed state
// machine over one TCP connection. It returns nil on every exit path,
// failures and cancellation via ctx included, since every failure mode here
// is per-connection and non-fatal to the swarm as a whole; failures are
// reported only through the debug log.
func (c *Conn) Run(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		c.log.Debugw("dial failed", "peer", c.endpoint, "err", err)
		return nil
	}
	defer conn.Close()

	stopWatch := c.watchCancellation(ctx, conn)
	defer stopWatch()

	if err := c.handshake(conn); err != nil {
		c.log.Debugw("handshake failed", "peer", c.endpoint, "err", err)
		return nil
	}

	if err := c.exchange(conn); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.log.Debugw("connection closed", "peer", c.endpoint, "err", err)
		return nil
	}
	return nil
}

// watchCancellation closes conn when ctx is done, so a blocked Read/Write
// unblocks immediately on supervisor cancellation rather than waiting out
// the next frame timeout.
func (c *Conn) watchCancellation(ctx context.Context, conn net.Conn) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (c *Conn) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	return dialer.DialContext(ctx, "tcp", c.endpoint.String())
}

func (c *Conn) handshake(conn net.Conn) error {
	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return err
	}
	defer conn.SetDeadline(time.Time{})

	req := handshake{infoHash: c.infoHash, peerID: c.localPeerID}
	if _, err := conn.Write(req.serialize()); err != nil {
		return fmt.Errorf("peer: write handshake: %w", err)
	}

	resp, err := readHandshake(conn)
	if err != nil {
		return fmt.Errorf("peer: read handshake: %w", err)
	}
	if resp.infoHash != c.infoHash {
		return fmt.Errorf("peer: info hash mismatch: got %x want %x", resp.infoHash, c.infoHash)
	}
	return nil
}

// exchange sends Interested then loops reading frames until the connection
// closes or errors. It does not pipeline: at most one outstanding request.
func (c *Conn) exchange(conn net.Conn) error {
	c.amInterested = true
	if _, err := conn.Write(newInterested().Serialize()); err != nil {
		return fmt.Errorf("send interested: %w", err)
	}

	r := bufio.NewReader(conn)
	for {
		if err := conn.SetDeadline(time.Now().Add(frameTimeout)); err != nil {
			return err
		}
		msg, err := ReadMessage(r)
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		if msg == nil {
			continue // keep-alive
		}
		if err := c.handleMessage(conn, msg); err != nil {
			return err
		}
		if c.mgr.IsComplete() {
			return nil
		}
	}
}

func (c *Conn) handleMessage(conn net.Conn, msg *Message) error {
	switch msg.ID {
	case MsgChoke:
		c.peerIsChoking = true
	case MsgUnchoke:
		c.peerIsChoking = false
		return c.maybeRequest(conn)
	case MsgInterested:
		c.peerIsInterested = true
	case MsgNotInterested:
		c.peerIsInterested = false
	case MsgHave:
		index, err := parseHave(msg)
		if err != nil {
			return err
		}
		c.ensureBitfield()
		if index >= 0 && index < c.numPieces {
			c.peerBitfield.Set(index)
		}
	case MsgBitfield:
		c.peerBitfield = bitfield.FromWire(msg.Payload, c.numPieces)
	case MsgRequest, MsgCancel:
		// The client never seeds; both are accepted and ignored.
	case MsgPiece:
		index, offset, data, err := parsePiece(msg)
		if err != nil {
			return err
		}
		if c.pending != nil && c.pending.PieceIndex == index && c.pending.Offset == offset {
			c.pending = nil
		}
		if err := c.mgr.BlockReceived(index, offset, data); err != nil {
			return fmt.Errorf("deliver block: %w", err)
		}
		return c.maybeRequest(conn)
	default:
		// Unknown ids are skipped without closing the connection.
	}
	return nil
}

func (c *Conn) ensureBitfield() {
	if c.peerBitfield == nil {
		c.peerBitfield = bitfield.New(c.numPieces)
	}
}

// maybeRequest issues the next block request if we are not choked and have
// no outstanding request. A block for a piece that has already been
// verified and flushed (raced against another connection) is released
// without even consulting the peer's bitfield; otherwise, if the peer has
// advertised a bitfield that says it lacks the piece our scheduler handed
// us, the block is released back to the pool instead of being requested
// from a peer that cannot answer.
func (c *Conn) maybeRequest(conn net.Conn) error {
	if c.peerIsChoking || c.pending != nil {
		return nil
	}
	blk, ok := c.mgr.NextRequest()
	if !ok {
		return nil
	}
	if c.mgr.HasPiece(blk.PieceIndex) {
		c.mgr.Release(blk)
		return nil
	}
	if c.peerBitfield != nil && !c.peerBitfield.Has(blk.PieceIndex) {
		// This peer has told us it lacks the piece our scheduler handed us;
		// release it for another connection and stay idle until our next
		// Unchoke or Piece event gives us another chance.
		c.mgr.Release(blk)
		return nil
	}
	if _, err := conn.Write(newRequest(blk.PieceIndex, blk.Offset, blk.Length).Serialize()); err != nil {
		c.mgr.Release(blk)
		return fmt.Errorf("send request: %w", err)
	}
	c.pending = &blk
	return nil
}
