// Command pitwalldump opens a recorded archive (or, on a supported
// platform, attaches to a live session) and prints every variable's
// decoded value for each frame to stdout as it arrives, sorted by name.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/apexdata/pitwall"
)

func main() {
	archivePath := flag.String("archive", "", "path to a recorded .ibt archive file; omit to attach to a live session")
	rateHz := flag.Float64("rate", 0, "maximum frames per second to print; 0 means native rate")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	conn, err := openConnection(ctx, *archivePath, logger)
	if err != nil {
		logger.Error("failed to open connection", slog.Any("error", err))
		os.Exit(1)
	}
	defer conn.Close()

	rate := pitwall.Native()
	if *rateHz > 0 {
		rate = pitwall.Max(*rateHz)
	}

	ch, sub := pitwall.RawFrames(conn, ctx, rate)
	defer sub.Unsubscribe()

	for frame := range ch {
		dyn := pitwall.NewDynamicFrame(conn.Schema(), frame)
		names := dyn.Names()
		sort.Strings(names)
		for _, name := range names {
			val, err := dyn.Get(name)
			if err != nil {
				continue
			}
			fmt.Printf("%s=%v ", name, val)
		}
		fmt.Println()
	}

	logger.Info("pitwalldump exited cleanly")
}

func openConnection(ctx context.Context, archivePath string, logger *slog.Logger) (*pitwall.Connection, error) {
	if archivePath != "" {
		return pitwall.Open(ctx, archivePath, pitwall.WithLogger(logger))
	}
	return pitwall.Connect(ctx, pitwall.WithLogger(logger))
}
