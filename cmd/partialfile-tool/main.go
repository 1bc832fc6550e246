package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/octoferry/partialfile/pkg/blockdevice"
	"github.com/octoferry/partialfile/pkg/contiguousfs"
	"github.com/octoferry/partialfile/pkg/partialfile"
	"github.com/octoferry/partialfile/pkg/transferstate"
)

// logErrorLogger is the simplest usable util.ErrorLogger: it writes
// every asynchronous sector failure to the standard logger, tagged
// with the session ID so interleaved output from repeated runs can be
// told apart.
type logErrorLogger struct {
	sessionID uuid.UUID
}

func (l logErrorLogger) Log(err error) {
	log.Printf("[%s] %s", l.sessionID, err)
}

func main() {
	if len(os.Args) != 2 {
		log.Fatal("Usage: partialfile-tool partialfile-tool.yaml")
	}
	config, err := readConfiguration(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to read configuration from %s: %s", os.Args[1], err)
	}

	sessionID := uuid.New()
	log.Printf("[%s] starting transfer session for %s", sessionID, config.TransferPath)

	device := blockdevice.NewLoopbackBlockDevice(int64(config.DeviceSizeBytes))
	submitter := blockdevice.NewLoopbackSubmitter(device, partialfile.SectorSize, 64)
	defer submitter.Close()

	fs := contiguousfs.NewMemoryFileSystem(config.LUN, config.FirstSectorNbr, config.SectorCount, partialfile.SectorSize)

	opts := partialfile.Options{
		PoolSize:    config.SectorPoolSize,
		ErrorLogger: logErrorLogger{sessionID: sessionID},
	}

	file, err := openOrCreate(fs, submitter, config, opts)
	if err != nil {
		log.Fatalf("Failed to open transfer: %s", err)
	}

	// A SIGINT/SIGTERM cancels the context streamStdin watches,
	// rather than killing the process outright, so the transfer
	// still gets flushed and its resume state still gets written.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return streamStdin(groupCtx, file)
	})
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("[%s] transfer failed: %s", sessionID, err)
	}

	if !file.Sync() {
		log.Fatalf("[%s] final sync failed", sessionID)
	}
	if err := persistState(config.StateFilePath, file.State()); err != nil {
		log.Printf("[%s] failed to persist transfer state: %s", sessionID, err)
	}
	if err := file.Close(); err != nil {
		log.Fatalf("[%s] failed to finalize transfer: %s", sessionID, err)
	}
	log.Printf("[%s] transfer complete: %d%% valid", sessionID, file.State().PercentValid())
}

func openOrCreate(fs *contiguousfs.MemoryFileSystem, submitter blockdevice.Submitter, config *configuration, opts partialfile.Options) (*partialfile.PartialFile, error) {
	if resumed, err := loadState(config.StateFilePath); err == nil {
		log.Printf("resuming %s from saved state (%d%% valid)", config.TransferPath, resumed.PercentValid())
		return partialfile.Open(fs, submitter, config.TransferPath, resumed, opts)
	}
	return partialfile.Create(fs, submitter, config.TransferPath, config.TransferSizeBytes, opts)
}

// streamStdin copies stdin into the transfer a sector's worth at a
// time, stopping early with ctx.Err() if ctx is canceled partway
// through; the caller treats that as a clean stop and still flushes
// whatever made it in.
func streamStdin(ctx context.Context, file *partialfile.PartialFile) error {
	reader := bufio.NewReaderSize(os.Stdin, partialfile.SectorSize*8)
	buf := make([]byte, partialfile.SectorSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := reader.Read(buf)
		if n > 0 {
			if !file.Write(buf[:n]) {
				return io.ErrClosedPipe
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func loadState(path string) (partialfile.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return partialfile.State{}, err
	}
	return transferstate.Unmarshal(data)
}

func persistState(path string, state partialfile.State) error {
	if path == "" {
		return nil
	}
	data, err := transferstate.Marshal(state)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
