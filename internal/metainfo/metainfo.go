// Package metainfo provides a read-only typed view over a decoded bencoded
// torrent file.
package metainfo

import (
	"crypto/sha1"
	"fmt"
	"unicode/utf8"

	"github.com/gorent/leech/internal/bencode"
)

const defaultOutputName = "download"

// File describes one entry of a multi-file torrent's file list.
type File struct {
	Length int64
	Path   []string
}

// Info is the typed view over a metainfo file's `info` dictionary and the
// handful of top-level keys the client needs.
type Info struct {
	announceURLs []string
	infoHash     [20]byte
	pieceLength  int64
	pieceHashes  []byte // len is a multiple of 20
	name         string
	totalLength  int64
	files        []File // non-nil only for multi-file torrents
}

// AnnounceURLs returns the ordered, duplicate-free list of tracker URLs:
// `announce` followed by each tier of `announce-list`, in the order given.
func (i *Info) AnnounceURLs() []string { return i.announceURLs }

// InfoHash returns the SHA-1 of the canonical bencoding of the info
// sub-dictionary.
func (i *Info) InfoHash() [20]byte { return i.infoHash }

// PieceLength returns the nominal length of every piece but the last.
func (i *Info) PieceLength() int64 { return i.pieceLength }

// PieceHashes returns the raw `pieces` blob: each 20-byte slice is one
// piece's expected SHA-1.
func (i *Info) PieceHashes() []byte { return i.pieceHashes }

// NumPieces returns len(PieceHashes())/20.
func (i *Info) NumPieces() int { return len(i.pieceHashes) / 20 }

// PieceHash returns the expected SHA-1 of piece index.
func (i *Info) PieceHash(index int) [20]byte {
	var h [20]byte
	copy(h[:], i.pieceHashes[index*20:index*20+20])
	return h
}

// TotalLength returns `length`, or the sum over `files`, for the whole
// torrent.
func (i *Info) TotalLength() int64 { return i.totalLength }

// OutputName returns the UTF-8 decoded `name`, used as the output file's
// name. If the bytes are not valid UTF-8, a safe placeholder is substituted.
func (i *Info) OutputName() string { return i.name }

// Files reports the multi-file torrent's sub-file list, or nil for a
// single-file torrent. The spec's output writer concatenates all pieces
// into a single file regardless; this is exposed for callers that want the
// original logical layout.
func (i *Info) Files() []File { return i.files }

// Parse decodes and validates a metainfo file's raw bytes.
func Parse(raw []byte) (*Info, error) {
	root, err := bencode.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("metainfo: decode: %w", err)
	}
	if root.Kind() != bencode.KindDict {
		return nil, fmt.Errorf("metainfo: top level value is not a dictionary")
	}

	infoVal, ok := root.Get("info")
	if !ok || infoVal.Kind() != bencode.KindDict {
		return nil, fmt.Errorf("metainfo: missing or malformed \"info\" key")
	}

	info := &Info{}

	info.announceURLs = announceURLs(root)

	pieceLengthVal, ok := infoVal.Get("piece length")
	if !ok {
		return nil, fmt.Errorf("metainfo: info missing \"piece length\"")
	}
	pieceLength, err := pieceLengthVal.Int64()
	if err != nil || pieceLength <= 0 {
		return nil, fmt.Errorf("metainfo: invalid \"piece length\"")
	}
	info.pieceLength = pieceLength

	piecesVal, ok := infoVal.Get("pieces")
	if !ok {
		return nil, fmt.Errorf("metainfo: info missing \"pieces\"")
	}
	pieces, err := piecesVal.Bytes()
	if err != nil || len(pieces)%20 != 0 {
		return nil, fmt.Errorf("metainfo: \"pieces\" length is not a multiple of 20")
	}
	info.pieceHashes = pieces

	nameVal, ok := infoVal.Get("name")
	if !ok {
		return nil, fmt.Errorf("metainfo: info missing \"name\"")
	}
	nameBytes, err := nameVal.Bytes()
	if err != nil {
		return nil, fmt.Errorf("metainfo: \"name\" is not a byte string")
	}
	if utf8.Valid(nameBytes) && len(nameBytes) > 0 {
		info.name = string(nameBytes)
	} else {
		info.name = defaultOutputName
	}

	lengthVal, hasLength := infoVal.Get("length")
	filesVal, hasFiles := infoVal.Get("files")
	switch {
	case hasLength && hasFiles:
		return nil, fmt.Errorf("metainfo: info has both \"length\" and \"files\"")
	case hasLength:
		length, err := lengthVal.Int64()
		if err != nil || length <= 0 {
			return nil, fmt.Errorf("metainfo: invalid \"length\"")
		}
		info.totalLength = length
	case hasFiles:
		files, total, err := parseFiles(filesVal)
		if err != nil {
			return nil, err
		}
		info.files = files
		info.totalLength = total
	default:
		return nil, fmt.Errorf("metainfo: info has neither \"length\" nor \"files\"")
	}

	hash, err := infoHash(infoVal)
	if err != nil {
		return nil, err
	}
	info.infoHash = hash

	return info, nil
}

func announceURLs(root bencode.Value) []string {
	seen := make(map[string]struct{})
	var urls []string
	add := func(v bencode.Value) {
		b, err := v.Bytes()
		if err != nil {
			return
		}
		u := string(b)
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	if v, ok := root.Get("announce"); ok {
		add(v)
	}
	if v, ok := root.Get("announce-list"); ok {
		tiers, err := v.List()
		if err == nil {
			for _, tier := range tiers {
				urlsInTier, err := tier.List()
				if err != nil {
					continue
				}
				for _, u := range urlsInTier {
					add(u)
				}
			}
		}
	}
	return urls
}

func parseFiles(v bencode.Value) ([]File, int64, error) {
	items, err := v.List()
	if err != nil {
		return nil, 0, fmt.Errorf("metainfo: \"files\" is not a list")
	}
	if len(items) == 0 {
		return nil, 0, fmt.Errorf("metainfo: \"files\" is empty")
	}
	files := make([]File, 0, len(items))
	var total int64
	for _, item := range items {
		lengthVal, ok := item.Get("length")
		if !ok {
			return nil, 0, fmt.Errorf("metainfo: file entry missing \"length\"")
		}
		length, err := lengthVal.Int64()
		if err != nil || length < 0 {
			return nil, 0, fmt.Errorf("metainfo: file entry has invalid \"length\"")
		}
		pathVal, ok := item.Get("path")
		if !ok {
			return nil, 0, fmt.Errorf("metainfo: file entry missing \"path\"")
		}
		pathItems, err := pathVal.List()
		if err != nil {
			return nil, 0, fmt.Errorf("metainfo: file entry \"path\" is not a list")
		}
		path := make([]string, 0, len(pathItems))
		for _, p := range pathItems {
			b, err := p.Bytes()
			if err != nil {
				return nil, 0, fmt.Errorf("metainfo: file entry path component is not a byte string")
			}
			path = append(path, string(b))
		}
		files = append(files, File{Length: length, Path: path})
		total += length
	}
	return files, total, nil
}

func infoHash(infoVal bencode.Value) ([20]byte, error) {
	encoded := bencode.Encode(infoVal)
	return sha1.Sum(encoded), nil
}
