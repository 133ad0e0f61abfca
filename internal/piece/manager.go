// Package piece implements the piece/block scheduler and integrity
// verifier: component D of the download engine. It tracks per-block state,
// hash-checks completed pieces, and is the sole owner of the output file.
package piece

import (
	"crypto/sha1"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/gorent/leech/internal/metainfo"
)

// BlockSize is the maximum size of a single block request, 2^14 bytes.
const BlockSize = 16384

// State is a block's position in its lifecycle.
type State int

const (
	Missing State = iota
	Pending
	Retrieved
)

// Block identifies one block request: a slice of one piece.
type Block struct {
	PieceIndex int
	Offset     int
	Length     int
}

type blockState struct {
	offset int
	length int
	state  State
}

type pieceState struct {
	index  int
	hash   [20]byte
	length int
	blocks []blockState
	buffer []byte
	done   bool // verified and flushed
}

func (p *pieceState) allRetrieved() bool {
	for _, b := range p.blocks {
		if b.state != Retrieved {
			return false
		}
	}
	return true
}

func (p *pieceState) resetToMissing() {
	for i := range p.blocks {
		p.blocks[i].state = Missing
	}
}

// Manager owns the block/piece plan, the verification pipeline and the
// output file. All exported methods are safe for concurrent use by many
// peer connections; internally a single mutex serializes the two mutating
// operations so a block can never be handed out twice while still Missing.
type Manager struct {
	mu sync.Mutex

	pieceLength int64
	totalLength int64
	pieces      []*pieceState
	totalBlocks int
	doneBlocks  int

	out    *os.File
	closed bool

	log *zap.SugaredLogger
}

// New builds the block/piece plan from a metainfo view and creates (or
// truncates) outputPath, pre-sized to the torrent's total length so later
// writes are seek+write at piece boundaries rather than appends.
func New(info *metainfo.Info, outputPath string, log *zap.SugaredLogger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	numPieces := info.NumPieces()
	pieceLength := info.PieceLength()
	totalLength := info.TotalLength()

	pieces := make([]*pieceState, numPieces)
	totalBlocks := 0
	for i := 0; i < numPieces; i++ {
		length := pieceLength
		if i == numPieces-1 {
			length = totalLength - int64(numPieces-1)*pieceLength
		}
		blocks := tileBlocks(int(length))
		pieces[i] = &pieceState{
			index:  i,
			hash:   info.PieceHash(i),
			length: int(length),
			blocks: blocks,
			buffer: make([]byte, length),
		}
		totalBlocks += len(blocks)
	}

	out, err := os.OpenFile(outputPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("piece: open output file: %w", err)
	}
	if err := out.Truncate(totalLength); err != nil {
		out.Close()
		return nil, fmt.Errorf("piece: size output file: %w", err)
	}

	return &Manager{
		pieceLength: pieceLength,
		totalLength: totalLength,
		pieces:      pieces,
		totalBlocks: totalBlocks,
		out:         out,
		log:         log,
	}, nil
}

func tileBlocks(pieceLen int) []blockState {
	var blocks []blockState
	for off := 0; off < pieceLen; off += BlockSize {
		length := BlockSize
		if pieceLen-off < length {
			length = pieceLen - off
		}
		blocks = append(blocks, blockState{offset: off, length: length})
	}
	return blocks
}

// NumPieces returns the number of pieces in the plan.
func (m *Manager) NumPieces() int {
	return len(m.pieces)
}

// HasPiece reports whether piece index has been verified and flushed.
func (m *Manager) HasPiece(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.pieces) {
		return false
	}
	return m.pieces[index].done
}

// NextRequest scans pieces in index order and returns the first Missing
// block of the first piece with remaining work, marking it Pending. The
// second return is false if every block is Pending or Retrieved.
func (m *Manager) NextRequest() (Block, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pieces {
		if p.done {
			continue
		}
		for i := range p.blocks {
			if p.blocks[i].state == Missing {
				p.blocks[i].state = Pending
				return Block{
					PieceIndex: p.index,
					Offset:     p.blocks[i].offset,
					Length:     p.blocks[i].length,
				}, true
			}
		}
	}
	return Block{}, false
}

// BlockReceived delivers data for (pieceIndex, offset). Delivery to a block
// that is not Pending is silently ignored, tolerating racing requests sent
// to multiple peers for the same block. When every block of the piece has
// become Retrieved, the piece is hash-checked; on mismatch every block
// reverts to Missing; on match the piece is written to the output file.
func (m *Manager) BlockReceived(pieceIndex, offset int, data []byte) error {
	m.mu.Lock()

	if pieceIndex < 0 || pieceIndex >= len(m.pieces) {
		m.mu.Unlock()
		return fmt.Errorf("piece: block_received: piece index %d out of range", pieceIndex)
	}
	p := m.pieces[pieceIndex]
	if p.done {
		m.mu.Unlock()
		return nil
	}

	idx := -1
	for i, b := range p.blocks {
		if b.offset == offset {
			idx = i
			break
		}
	}
	if idx == -1 || p.blocks[idx].state != Pending {
		m.mu.Unlock()
		return nil
	}

	copy(p.buffer[offset:offset+len(data)], data)
	p.blocks[idx].state = Retrieved
	m.doneBlocks++

	if !p.allRetrieved() {
		m.mu.Unlock()
		return nil
	}

	// All blocks in: verify while still holding the lock so a concurrent
	// next_request can't hand the piece's blocks back out mid-check.
	sum := sha1.Sum(p.buffer)
	if sum != p.hash {
		p.resetToMissing()
		m.doneBlocks -= len(p.blocks)
		m.mu.Unlock()
		m.log.Infow("piece hash mismatch, re-requesting", "piece", pieceIndex)
		return nil
	}

	buf := make([]byte, len(p.buffer))
	copy(buf, p.buffer)
	p.done = true
	out := m.out
	writeOffset := int64(pieceIndex) * m.pieceLength
	m.mu.Unlock()

	if _, err := out.WriteAt(buf, writeOffset); err != nil {
		return fmt.Errorf("piece: write piece %d: %w", pieceIndex, err)
	}
	m.log.Infow("piece verified", "piece", pieceIndex)
	return nil
}

// Release returns a Pending block to Missing. It exists for the scheduling
// refinement in internal/peer: a connection that learns, via a peer's
// advertised Bitfield/Have messages, that the peer does not actually have a
// block's piece releases it instead of stalling on a request the peer will
// never answer. It is a no-op if the block already progressed to Retrieved
// or its piece is already verified, so it can never regress a Retrieved
// block back to Pending.
func (m *Manager) Release(b Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.PieceIndex < 0 || b.PieceIndex >= len(m.pieces) {
		return
	}
	p := m.pieces[b.PieceIndex]
	if p.done {
		return
	}
	for i := range p.blocks {
		if p.blocks[i].offset == b.Offset && p.blocks[i].state == Pending {
			p.blocks[i].state = Missing
			return
		}
	}
}

// IsComplete reports whether every piece has been verified and flushed.
func (m *Manager) IsComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pieces {
		if !p.done {
			return false
		}
	}
	return true
}

// Progress returns the fraction of Retrieved blocks over the total block
// count, including blocks belonging to already-verified pieces.
func (m *Manager) Progress() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.totalBlocks == 0 {
		return 1
	}
	return float64(m.doneBlocks) / float64(m.totalBlocks)
}

// Close flushes and releases the output file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if err := m.out.Sync(); err != nil {
		m.out.Close()
		return fmt.Errorf("piece: sync output file: %w", err)
	}
	return m.out.Close()
}
