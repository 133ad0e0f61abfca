package piece

import (
	"bytes"
	"crypto/sha1"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorent/leech/internal/metainfo"
)

// buildInfo constructs a minimal single-file metainfo.Info by round-tripping
// through a hand-built bencoded file, the same way metainfo_test does.
func buildInfo(t *testing.T, pieceLength int64, content []byte) *metainfo.Info {
	t.Helper()
	numPieces := (int64(len(content)) + pieceLength - 1) / pieceLength
	var hashes bytes.Buffer
	for i := int64(0); i < numPieces; i++ {
		start := i * pieceLength
		end := start + pieceLength
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		h := sha1.Sum(content[start:end])
		hashes.Write(h[:])
	}

	info := "d6:lengthi" + itoa(len(content)) + "e4:name4:test12:piece lengthi" + itoa(int(pieceLength)) + "e6:pieces" + itoa(hashes.Len()) + ":" + hashes.String() + "e"
	raw := "d8:announce3:abc4:info" + info + "e"

	m, err := metainfo.Parse([]byte(raw))
	require.NoError(t, err)
	return m
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestPiecePlanArithmetic(t *testing.T) {
	content := bytes.Repeat([]byte{0x42}, 100)
	info := buildInfo(t, 32, content)

	dir := t.TempDir()
	mgr, err := New(info, filepath.Join(dir, "out"), nil)
	require.NoError(t, err)
	defer mgr.Close()

	assert.Equal(t, 4, mgr.NumPieces()) // ceil(100/32) = 4

	total := 0
	for _, p := range mgr.pieces {
		for _, b := range p.blocks {
			total += b.length
		}
	}
	assert.Equal(t, 100, total)
}

func TestHappyPathDownload(t *testing.T) {
	content := bytes.Repeat([]byte{0x7}, 40000) // spans multiple blocks/pieces
	pieceLength := int64(16384 * 2)
	info := buildInfo(t, pieceLength, content)

	dir := t.TempDir()
	outPath := filepath.Join(dir, "out")
	mgr, err := New(info, outPath, nil)
	require.NoError(t, err)

	for {
		blk, ok := mgr.NextRequest()
		if !ok {
			break
		}
		data := content[int64(blk.PieceIndex)*pieceLength+int64(blk.Offset) : int64(blk.PieceIndex)*pieceLength+int64(blk.Offset)+int64(blk.Length)]
		require.NoError(t, mgr.BlockReceived(blk.PieceIndex, blk.Offset, data))
	}

	assert.True(t, mgr.IsComplete())
	assert.Equal(t, 1.0, mgr.Progress())
	require.NoError(t, mgr.Close())

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestHashMismatchResetsBlocksToMissing(t *testing.T) {
	content := bytes.Repeat([]byte{0x9}, 16384)
	info := buildInfo(t, 16384, content)

	dir := t.TempDir()
	mgr, err := New(info, filepath.Join(dir, "out"), nil)
	require.NoError(t, err)
	defer mgr.Close()

	blk, ok := mgr.NextRequest()
	require.True(t, ok)

	corrupt := make([]byte, blk.Length)
	copy(corrupt, content)
	corrupt[len(corrupt)-1] ^= 0xFF

	require.NoError(t, mgr.BlockReceived(blk.PieceIndex, blk.Offset, corrupt))
	assert.False(t, mgr.IsComplete())

	// The piece must be fully Missing again and re-requestable.
	blk2, ok := mgr.NextRequest()
	require.True(t, ok)
	assert.Equal(t, 0, blk2.Offset)

	require.NoError(t, mgr.BlockReceived(blk2.PieceIndex, blk2.Offset, content))
	assert.True(t, mgr.IsComplete())
}

func TestBlockReceivedIgnoresNonPendingDelivery(t *testing.T) {
	content := bytes.Repeat([]byte{0x1}, 16384)
	info := buildInfo(t, 16384, content)

	dir := t.TempDir()
	mgr, err := New(info, filepath.Join(dir, "out"), nil)
	require.NoError(t, err)
	defer mgr.Close()

	// No NextRequest has been called yet, so the block is still Missing.
	require.NoError(t, mgr.BlockReceived(0, 0, content))
	assert.False(t, mgr.IsComplete())
}

func TestNextRequestNeverHandsOutSameBlockTwice(t *testing.T) {
	content := bytes.Repeat([]byte{0x3}, 16384*4)
	info := buildInfo(t, 16384*2, content)

	dir := t.TempDir()
	mgr, err := New(info, filepath.Join(dir, "out"), nil)
	require.NoError(t, err)
	defer mgr.Close()

	seen := map[[2]int]bool{}
	for {
		blk, ok := mgr.NextRequest()
		if !ok {
			break
		}
		key := [2]int{blk.PieceIndex, blk.Offset}
		require.False(t, seen[key], "block handed out twice: %v", key)
		seen[key] = true
	}
}

func TestConcurrentSchedulerSafety(t *testing.T) {
	content := bytes.Repeat([]byte{0x5}, 16384*50)
	pieceLength := int64(16384 * 5)
	info := buildInfo(t, pieceLength, content)

	dir := t.TempDir()
	mgr, err := New(info, filepath.Join(dir, "out"), nil)
	require.NoError(t, err)
	defer mgr.Close()

	var mu sync.Mutex
	seen := map[[2]int]bool{}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				blk, ok := mgr.NextRequest()
				if !ok {
					return
				}
				mu.Lock()
				key := [2]int{blk.PieceIndex, blk.Offset}
				dup := seen[key]
				seen[key] = true
				mu.Unlock()
				assert.False(t, dup, "block handed out twice: %v", key)

				start := int64(blk.PieceIndex)*pieceLength + int64(blk.Offset)
				data := content[start : start+int64(blk.Length)]
				require.NoError(t, mgr.BlockReceived(blk.PieceIndex, blk.Offset, data))
			}
		}()
	}
	wg.Wait()

	assert.True(t, mgr.IsComplete())
}
