// Package tracker implements the tracker-announce subsystem: resolving a
// torrent's peer list over HTTP or UDP, component C of the download engine.
package tracker

import (
	"context"
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/gorent/leech/internal/metainfo"
)

// Endpoint is a discovered peer address. IPv4 only; port 0 is never
// produced here.
type Endpoint struct {
	IP   net.IP
	Port int
}

// Params bundles the fixed announce parameters every protocol needs.
type Params struct {
	InfoHash [20]byte
	PeerID   [20]byte
	Port     uint16
	Left     int64
}

// Announce tries every tracker URL from info.AnnounceURLs() in order and
// returns the first non-empty peer list. Per-tracker failures are logged
// and swallowed; if every tracker fails, the result is an empty slice, not
// an error — the supervisor treats an empty peer list as the terminal
// condition.
func Announce(ctx context.Context, info *metainfo.Info, params Params, log *zap.SugaredLogger) []Endpoint {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	for _, raw := range info.AnnounceURLs() {
		u, err := url.Parse(raw)
		if err != nil {
			log.Infow("tracker announce failed", "url", raw, "err", err)
			continue
		}

		var peers []Endpoint
		switch {
		case strings.HasPrefix(u.Scheme, "http"):
			peers, err = announceHTTP(ctx, u, params)
		case u.Scheme == "udp":
			peers, err = announceUDP(ctx, u, params)
		default:
			log.Infow("tracker announce failed", "url", raw, "err", "unsupported scheme "+u.Scheme)
			continue
		}

		if err != nil {
			log.Infow("tracker announce failed", "url", raw, "err", err)
			continue
		}
		if len(peers) > 0 {
			log.Infow("tracker announce succeeded", "url", raw, "peers", len(peers))
			return peers
		}
	}
	return nil
}

// parseCompactPeers parses the compact peer list format shared by both the
// HTTP and UDP announce replies: each 6-byte group is a big-endian IPv4
// address followed by a big-endian port. Port-0 entries are discarded.
func parseCompactPeers(b []byte) []Endpoint {
	const recordSize = 6
	n := len(b) / recordSize
	peers := make([]Endpoint, 0, n)
	for i := 0; i < n; i++ {
		off := i * recordSize
		ip := net.IPv4(b[off], b[off+1], b[off+2], b[off+3])
		port := int(b[off+4])<<8 | int(b[off+5])
		if port == 0 {
			continue
		}
		peers = append(peers, Endpoint{IP: ip, Port: port})
	}
	return peers
}
