package logger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileWriterConfig tunes the buffered file sink.
type FileWriterConfig struct {
	Path       string
	MaxSize    int64         // rotation threshold in bytes, 0 = never rotate
	MaxBackups int           // rotated files to keep, default 5
	BufferSize int           // default 8 KiB
	FlushEvery time.Duration // default 3s
}

func (c FileWriterConfig) withDefaults() FileWriterConfig {
	if c.MaxBackups <= 0 {
		c.MaxBackups = 5
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 8192
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = 3 * time.Second
	}
	return c
}

// FileWriter is a buffered io.Writer over an append-only log file with
// size based rotation (file.log -> file.log.1 -> file.log.2 ...).
type FileWriter struct {
	cfg FileWriterConfig

	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
	size int64

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewFileWriter opens the sink and starts the periodic flusher.
func NewFileWriter(cfg FileWriterConfig) (*FileWriter, error) {
	cfg = cfg.withDefaults()

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, size, err := openAppend(cfg.Path)
	if err != nil {
		return nil, err
	}

	fw := &FileWriter{
		cfg:    cfg,
		file:   file,
		w:      bufio.NewWriterSize(file, cfg.BufferSize),
		size:   size,
		ticker: time.NewTicker(cfg.FlushEvery),
		done:   make(chan struct{}),
	}
	fw.wg.Add(1)
	go fw.flushLoop()
	return fw, nil
}

func openAppend(path string) (*os.File, int64, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("failed to stat log file: %w", err)
	}
	return file, info.Size(), nil
}

func (fw *FileWriter) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.cfg.MaxSize > 0 && fw.size+int64(len(p)) > fw.cfg.MaxSize {
		if err := fw.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := fw.w.Write(p)
	fw.size += int64(n)
	return n, err
}

// rotate shifts existing backups up and reopens a fresh file. Caller
// holds the mutex.
func (fw *FileWriter) rotate() error {
	if err := fw.w.Flush(); err != nil {
		return err
	}
	fw.file.Close()

	for i := fw.cfg.MaxBackups - 1; i >= 1; i-- {
		old := fmt.Sprintf("%s.%d", fw.cfg.Path, i)
		if _, err := os.Stat(old); err == nil {
			os.Rename(old, fmt.Sprintf("%s.%d", fw.cfg.Path, i+1))
		}
	}
	if err := os.Rename(fw.cfg.Path, fw.cfg.Path+".1"); err != nil {
		// Rename across a deleted directory can fail; start over rather
		// than losing the sink entirely.
		os.Remove(fw.cfg.Path)
	}

	file, size, err := openAppend(fw.cfg.Path)
	if err != nil {
		return err
	}
	fw.file = file
	fw.w = bufio.NewWriterSize(file, fw.cfg.BufferSize)
	fw.size = size
	return nil
}

// Flush forces buffered bytes to disk.
func (fw *FileWriter) Flush() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.w.Flush()
}

// Close stops the flusher and closes the file.
func (fw *FileWriter) Close() error {
	fw.ticker.Stop()
	close(fw.done)
	fw.wg.Wait()

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.w.Flush(); err != nil {
		fw.file.Close()
		return err
	}
	return fw.file.Close()
}

func (fw *FileWriter) flushLoop() {
	defer fw.wg.Done()
	for {
		select {
		case <-fw.ticker.C:
			fw.Flush()
		case <-fw.done:
			return
		}
	}
}
