// Package client wires the tracker, piece manager and peer connections
// together into one leech run: component F of the download engine.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gorent/leech/internal/metainfo"
	"github.com/gorent/leech/internal/peer"
	"github.com/gorent/leech/internal/peerid"
	"github.com/gorent/leech/internal/piece"
	"github.com/gorent/leech/internal/tracker"
)

// MaxConcurrentPeers bounds how many peer connections run at once. Tracker
// replies beyond this count are dropped rather than queued.
const MaxConcurrentPeers = 20

const progressInterval = 5 * time.Second
const completionPollInterval = 200 * time.Millisecond

// Config bundles the inputs one leech run needs.
type Config struct {
	Info       *metainfo.Info
	OutputPath string
	ListenPort uint16
	Log        *zap.SugaredLogger
}

// Run resolves peers for cfg.Info, downloads every piece and writes the
// completed file to cfg.OutputPath. It returns once the download completes
// or ctx is cancelled. A peer task that dies is never replaced with another
// dial; if the discovered peer set can't complete the torrent on its own,
// Run blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	mgr, err := piece.New(cfg.Info, cfg.OutputPath, log)
	if err != nil {
		return fmt.Errorf("client: init piece manager: %w", err)
	}
	defer mgr.Close()

	localPeerID := peerid.Generate()
	params := tracker.Params{
		InfoHash: cfg.Info.InfoHash(),
		PeerID:   localPeerID,
		Port:     cfg.ListenPort,
		Left:     cfg.Info.TotalLength(),
	}

	endpoints := tracker.Announce(ctx, cfg.Info, params, log)
	if len(endpoints) == 0 {
		return fmt.Errorf("client: no trackers returned any peers")
	}
	if len(endpoints) > MaxConcurrentPeers {
		log.Infow("dropping excess peers", "discovered", len(endpoints), "used", MaxConcurrentPeers)
		endpoints = endpoints[:MaxConcurrentPeers]
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, ep := range endpoints {
		wg.Add(1)
		go func(ep tracker.Endpoint) {
			defer wg.Done()
			c := peer.New(peer.Endpoint{IP: ep.IP, Port: ep.Port}, localPeerID, cfg.Info.InfoHash(), cfg.Info.NumPieces(), mgr, log)
			if err := c.Run(runCtx); err != nil {
				log.Debugw("peer task ended", "peer", ep, "err", err)
			}
		}(ep)
	}

	peersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(peersDone)
	}()

	progressTicker := time.NewTicker(progressInterval)
	defer progressTicker.Stop()
	pollTicker := time.NewTicker(completionPollInterval)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			cancel()
			<-peersDone
			return ctx.Err()
		case <-progressTicker.C:
			log.Infow("progress", "fraction", mgr.Progress())
		case <-pollTicker.C:
			if mgr.IsComplete() {
				cancel()
				<-peersDone
				log.Infow("download complete", "output", cfg.OutputPath)
				return nil
			}
		}
	}
}
