package audio

import (
	"context"
	"errors"
	"io"
	"os"
)

// DefaultChunkSize is 100 ms of 16 kHz mono s16le PCM.
const DefaultChunkSize = 3200

// Pump copies PCM from src to sink in chunks of chunkSize bytes until src is
// exhausted, sink fails, or ctx is done. Each chunk passed to sink is a fresh
// slice. End of stream, a closed source and context cancellation are not
// reported as errors.
func Pump(ctx context.Context, src io.Reader, sink func([]byte) error, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sinkErr := sink(chunk); sinkErr != nil {
				return sinkErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
