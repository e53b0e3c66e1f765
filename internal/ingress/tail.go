package ingress

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// OffsetStore persists per-server tail positions across restarts.
type OffsetStore interface {
	UpdateLogOffset(ctx context.Context, externalID string, offset int64) error
}

// TailTarget is one log file to follow.
type TailTarget struct {
	ServerID string
	Path     string
	Offset   int64
}

type tailState struct {
	serverID string
	path     string
	offset   int64
}

// Tailer follows local server log files, feeding appended lines through
// the pipeline. Rotation and truncation reset the file to the start.
type Tailer struct {
	pipeline *Pipeline
	offsets  OffsetStore
	log      *slog.Logger

	watcher *fsnotify.Watcher

	mu    sync.Mutex
	files map[string]*tailState
}

// NewTailer returns an empty tailer. Targets are attached with Add; a
// target whose file does not exist yet fails there.
func NewTailer(pipeline *Pipeline, offsets OffsetStore, log *slog.Logger) (*Tailer, error) {
	if log == nil {
		log = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Tailer{
		pipeline: pipeline,
		offsets:  offsets,
		log:      log.With("component", "tail-ingress"),
		watcher:  w,
		files:    make(map[string]*tailState),
	}, nil
}

// Add registers a file for tailing and drains anything already appended
// past the persisted offset.
func (t *Tailer) Add(ctx context.Context, target TailTarget) error {
	info, err := os.Stat(target.Path)
	if err != nil {
		return fmt.Errorf("log file %q not readable: %w", target.Path, err)
	}

	offset := target.Offset
	if offset > info.Size() {
		// The file was rotated or truncated while we were down.
		offset = 0
	}

	st := &tailState{serverID: target.ServerID, path: target.Path, offset: offset}
	t.mu.Lock()
	t.files[target.Path] = st
	t.mu.Unlock()

	if err := t.watcher.Add(target.Path); err != nil {
		return fmt.Errorf("failed to watch %q: %w", target.Path, err)
	}

	t.log.Info("tailing server log", "server", target.ServerID, "path", target.Path, "offset", offset)
	t.drain(ctx, st)
	return nil
}

// Run dispatches watcher events until ctx is canceled.
func (t *Tailer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			t.mu.Lock()
			st := t.files[ev.Name]
			t.mu.Unlock()
			if st != nil {
				t.drain(ctx, st)
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return nil
			}
			t.log.Warn("file watcher error", "error", err)
		}
	}
}

// Close stops watching. Offsets are already persisted per drain.
func (t *Tailer) Close() error {
	return t.watcher.Close()
}

// drain reads every complete line appended since the last offset.
func (t *Tailer) drain(ctx context.Context, st *tailState) {
	f, err := os.Open(st.path)
	if err != nil {
		t.log.Warn("failed to open log file", "path", st.path, "error", err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		t.log.Warn("failed to stat log file", "path", st.path, "error", err)
		return
	}
	if info.Size() < st.offset {
		t.log.Info("log file truncated, restarting from top",
			"server", st.serverID, "path", st.path)
		st.offset = 0
	}
	if info.Size() == st.offset {
		return
	}

	if _, err := f.Seek(st.offset, io.SeekStart); err != nil {
		t.log.Warn("failed to seek log file", "path", st.path, "error", err)
		return
	}

	t.pipeline.Authenticate(ctx, st.serverID, "file:"+st.path)

	reader := bufio.NewReader(f)
	read := int64(0)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// A partial trailing line stays unconsumed until its newline
			// arrives.
			break
		}
		read += int64(len(line))
		t.pipeline.ProcessLine(ctx, st.serverID, line)
	}
	if read == 0 {
		return
	}

	st.offset += read
	if t.offsets != nil {
		if err := t.offsets.UpdateLogOffset(ctx, st.serverID, st.offset); err != nil {
			t.log.Warn("failed to persist log offset",
				"server", st.serverID, "offset", st.offset, "error", err)
		}
	}
}
