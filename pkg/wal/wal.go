// Package wal is an append-only JSON-lines write-ahead log. Each Append writes one
// line and fsyncs before returning, so a line that made it to disk with its
// trailing newline is durable.
package wal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"sync"
)

// FileMode is rw-r--r--.
const FileMode fs.FileMode = 0644

// ErrPoisoned is returned by every Append once a failed append could not be rolled
// back. The file may hold a partial or unacknowledged line, so nothing more is written.
var ErrPoisoned = errors.New("wal: log poisoned by an unrecoverable append failure")

// File is the subset of *os.File the log needs.
type File interface {
	io.ReadWriteSeeker
	Stat() (fs.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Close() error
}

// Log is a single WAL file.
type Log struct {
	file     File
	mu       sync.Mutex
	poisoned error
}

// Open opens or creates the log at path.
func Open(path string) (*Log, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileMode)
	if err != nil {
		return nil, err
	}
	return New(file), nil
}

// New wraps an already opened file. Writes must land at the end of the file.
func New(file File) *Log {
	return &Log{file: file}
}

// Append encodes v as one JSON line and syncs it to disk. On failure the file is cut
// back to its previous length, so a failed Append leaves no trace and may be retried.
func (l *Log) Append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.poisoned != nil {
		return fmt.Errorf("%w: %w", ErrPoisoned, l.poisoned)
	}

	info, err := l.file.Stat()
	if err != nil {
		return err
	}
	offset := info.Size()

	if _, err := l.file.Write(data); err != nil {
		return l.rollback(offset, err)
	}
	if err := l.file.Sync(); err != nil {
		return l.rollback(offset, err)
	}
	return nil
}

// rollback removes whatever part of a failed append reached the file.
func (l *Log) rollback(offset int64, cause error) error {
	err := l.file.Truncate(offset)
	if err == nil {
		err = l.file.Sync()
	}
	if err != nil {
		l.poisoned = errors.Join(cause, err)
		log.Printf("level=error component=wal msg=\"append rollback failed, refusing further writes\" offset=%d err=%q", offset, l.poisoned.Error())
		return fmt.Errorf("%w: %w", ErrPoisoned, l.poisoned)
	}
	log.Printf("level=warn component=wal msg=\"append failed, rolled back\" offset=%d err=%q", offset, cause.Error())
	return cause
}

// Replay calls fn for every complete line, oldest first. A trailing line without a
// newline is a write torn by a crash: it is truncated away and never replayed.
func (l *Log) Replay(fn func(line []byte) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(l.file)
	var offset int64
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				log.Printf("level=warn component=wal msg=\"truncating torn tail\" offset=%d bytes=%d", offset, len(line))
				if terr := l.file.Truncate(offset); terr != nil {
					return terr
				}
			}
			return nil
		}
		if err != nil {
			return err
		}
		offset += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
}

// Close closes the underlying file.
func (l *Log) Close() error {
	return l.file.Close()
}
