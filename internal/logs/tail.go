package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const pollInterval = 200 * time.Millisecond

// Chunk is a batch of complete lines and the byte offset just past them.
type Chunk struct {
	Lines  []string
	Offset int64
}

// Last returns up to n trailing lines of the file at path. A missing file
// yields an empty chunk.
func Last(path string, n int) (Chunk, error) {
	file, err := open(path)
	if err != nil || file == nil {
		return Chunk{}, err
	}
	defer file.Close()

	var lines []string
	offset, err := scan(file, func(line string) {
		if n <= 0 {
			return
		}
		if len(lines) == n {
			lines = append(lines[:0], lines[1:]...)
		}
		lines = append(lines, line)
	})
	if err != nil {
		return Chunk{}, err
	}
	return Chunk{Lines: lines, Offset: offset}, nil
}

// Since returns the lines written after offset. When nothing is available it
// polls for up to wait. An offset beyond the end of the file means the file
// was replaced, so reading restarts at the beginning.
func Since(ctx context.Context, path string, offset int64, wait time.Duration) (Chunk, error) {
	deadline := time.Now().Add(wait)
	for {
		chunk, err := readFrom(path, offset)
		if err != nil || len(chunk.Lines) > 0 || !time.Now().Before(deadline) {
			return chunk, err
		}
		offset = chunk.Offset
		select {
		case <-ctx.Done():
			return chunk, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func readFrom(path string, offset int64) (Chunk, error) {
	file, err := open(path)
	if err != nil || file == nil {
		return Chunk{}, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Chunk{Offset: offset}, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return Chunk{Offset: offset}, fmt.Errorf("seek log file: %w", err)
	}

	var lines []string
	read, err := scan(file, func(line string) { lines = append(lines, line) })
	if err != nil {
		return Chunk{Offset: offset}, err
	}
	return Chunk{Lines: lines, Offset: offset + read}, nil
}

func open(path string) (*os.File, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// scan feeds each complete line to fn and returns the bytes consumed. A
// trailing partial line is left for the next read.
func scan(r io.Reader, fn func(string)) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if err == nil {
			consumed += int64(len(line))
			fn(trimEOL(line))
			continue
		}
		if errors.Is(err, io.EOF) {
			return consumed, nil
		}
		return consumed, fmt.Errorf("read log file: %w", err)
	}
}

func trimEOL(line string) string {
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}
