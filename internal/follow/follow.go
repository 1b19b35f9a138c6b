// Package follow tails files and feeds appended lines into a running
// sequential session, with optional checkpointed resume.
package follow

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/logsieve/logsieve/internal/engine"
	"github.com/logsieve/logsieve/pkg/checkpoint"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// idleFlush is how long a multiline chunk may sit open before it is
// forced out. A stalled stream should not hold the last record hostage.
const idleFlush = time.Second

// Tailer follows a set of files, pushing new lines through a Session
// as they appear.
type Tailer struct {
	sess  *engine.Session
	store checkpoint.Store // nil = no persistence
	files map[string]*fileState
}

type fileState struct {
	path    string
	offset  int64
	lnum    int
	partial []byte // bytes after the last newline
}

// New prepares a tailer over the given paths. With a store, each file
// resumes from its saved offset; a shrunken file is treated as
// truncated and restarts from the beginning.
func New(ctx context.Context, sess *engine.Session, store checkpoint.Store, paths []string) (*Tailer, error) {
	t := &Tailer{
		sess:  sess,
		store: store,
		files: make(map[string]*fileState),
	}

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeFileOpen,
				"resolving %s", path)
		}
		fs := &fileState{path: abs}
		if store != nil {
			off, ok, err := store.Load(ctx, abs)
			if err != nil {
				return nil, err
			}
			if ok {
				fs.offset = off.Bytes
				fs.lnum = off.LNum
			}
		}
		t.files[abs] = fs
	}
	return t, nil
}

// Run tails until the context is cancelled or the session asks to stop.
// It first drains what the files already contain, then blocks on
// filesystem events.
func (t *Tailer) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return lserrors.Wrap(err, lserrors.SeverityFatal, lserrors.CodeInternal,
			"creating file watcher")
	}
	defer watcher.Close()

	// Watch the directory containing each file: events for files that
	// do not exist yet still arrive this way.
	dirs := make(map[string]bool)
	for path := range t.files {
		dir := filepath.Dir(path)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := watcher.Add(dir); err != nil {
			return lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeFileOpen,
				"watching %s", dir)
		}
	}

	// Catch up on existing content before waiting for events.
	for _, fs := range t.files {
		if err := t.drain(ctx, fs); err != nil {
			if engine.IsStop(err) {
				return nil
			}
			return err
		}
	}

	idle := time.NewTimer(idleFlush)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return lserrors.Wrap(ctx.Err(), lserrors.SeverityFatal, lserrors.CodeCanceled,
				"interrupted")

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			fs, watched := t.files[abs]
			if !watched {
				continue
			}
			if err := t.drain(ctx, fs); err != nil {
				if engine.IsStop(err) {
					return nil
				}
				return err
			}
			resetTimer(idle, idleFlush)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return lserrors.Wrap(err, lserrors.SeverityFatal, lserrors.CodeInternal,
				"watching files")

		case <-idle.C:
			if t.sess.HasPending() {
				if err := t.sess.FlushPending(); err != nil {
					if engine.IsStop(err) {
						return nil
					}
					return err
				}
			}
			idle.Reset(idleFlush)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// drain reads everything past the file's current offset and feeds the
// complete lines through the session.
func (t *Tailer) drain(ctx context.Context, fs *fileState) error {
	f, err := os.Open(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // not created yet
		}
		return lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeFileOpen,
			"opening %s", fs.path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeFileOpen,
			"statting %s", fs.path)
	}
	if info.Size() < fs.offset {
		// Truncated (rotated in place): start over.
		fs.offset = 0
		fs.lnum = 0
		fs.partial = fs.partial[:0]
	}

	if _, err := f.Seek(fs.offset, io.SeekStart); err != nil {
		return lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeRead,
			"seeking %s", fs.path)
	}

	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			fs.offset += int64(n)
			if ferr := t.feed(fs, buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeRead,
				"reading %s", fs.path)
		}
	}

	if t.store != nil {
		// A trailing partial line is not consumed yet; resume re-reads it.
		return t.store.Save(ctx, fs.path, checkpoint.Offset{
			Bytes:     fs.offset - int64(len(fs.partial)),
			LNum:      fs.lnum,
			UpdatedAt: time.Now().UTC(),
		})
	}
	return nil
}

// feed splits a read into lines, buffering the trailing partial line
// until its newline arrives.
func (t *Tailer) feed(fs *fileState, data []byte) error {
	fs.partial = append(fs.partial, data...)
	for {
		i := bytes.IndexByte(fs.partial, '\n')
		if i < 0 {
			return nil
		}
		line := fs.partial[:i]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		fs.lnum++
		if err := t.sess.FeedLine(string(line), fs.path, fs.lnum); err != nil {
			return err
		}
		fs.partial = fs.partial[i+1:]
	}
}
