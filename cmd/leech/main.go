// Command leech downloads a single torrent's content and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/gorent/leech/internal/client"
	"github.com/gorent/leech/internal/metainfo"
)

func main() {
	port := flag.Uint("port", 6881, "local port announced to trackers")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	zapCfg := zap.NewProductionConfig()
	if *verbose {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "leech: build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	var input io.Reader
	args := flag.Args()
	if len(args) > 0 {
		f, err := os.Open(args[0])
		if err != nil {
			log.Fatalw("open torrent file", "err", err)
		}
		defer f.Close()
		input = f
	} else {
		stat, err := os.Stdin.Stat()
		if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
			log.Fatal("usage: leech <torrent-file> (or pipe one in on stdin)")
		}
		input = os.Stdin
	}

	raw, err := io.ReadAll(input)
	if err != nil {
		log.Fatalw("read torrent file", "err", err)
	}

	info, err := metainfo.Parse(raw)
	if err != nil {
		log.Fatalw("parse metainfo", "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	outputPath := filepath.Clean(info.OutputName())
	log.Infow("starting download", "name", info.OutputName(), "pieces", info.NumPieces())

	err = client.Run(ctx, client.Config{
		Info:       info,
		OutputPath: outputPath,
		ListenPort: uint16(*port),
		Log:        log,
	})
	if err != nil {
		log.Fatalw("download failed", "err", err)
	}

	fmt.Println("saved", outputPath)
}
