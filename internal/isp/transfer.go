package isp

import (
	"fmt"
	"io"
)

// ProgressFunc reports sent bytes out of total.
type ProgressFunc func(current, total int)

// ChunkFunc handles one chunk starting at offset bytes into the stream.
type ChunkFunc func(offset int, chunk []byte) error

// Stream pulls total bytes from src in chunks of at most chunkSize and
// hands each to op. progress is called once with 0 and after every chunk.
// The first failing chunk aborts the transfer.
func Stream(total int, src io.Reader, chunkSize int, op ChunkFunc, progress ProgressFunc) error {
	if chunkSize <= 0 {
		return fmt.Errorf("invalid chunk size %d", chunkSize)
	}
	if progress == nil {
		progress = func(int, int) {}
	}

	buf := make([]byte, chunkSize)
	progress(0, total)

	for sent := 0; sent < total; {
		n := min(chunkSize, total-sent)
		if _, err := io.ReadFull(src, buf[:n]); err != nil {
			return fmt.Errorf("read source at offset %d: %w", sent, err)
		}
		if err := op(sent, buf[:n]); err != nil {
			return fmt.Errorf("chunk at offset %d: %w", sent, err)
		}
		sent += n
		progress(sent, total)
	}
	return nil
}
