// Package faillog keeps a plain-text, size-rotated report of every part
// that exhausted its retries, so a user can see at a glance what a long
// sync run could not bring down.
package faillog

import (
	"fmt"
	"io"
	"sync"
	"time"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Entry is one failed download.
type Entry struct {
	PostID     string
	FolderName string
	PartType   string
	RemoteRef  string
	Err        error
}

// Reporter receives failed-download entries.
type Reporter interface {
	Record(entry Entry)
	Close() error
}

// Log appends tab-separated lines to a rotated report file.
type Log struct {
	mu  sync.Mutex
	w   io.WriteCloser
	now func() time.Time
}

// New opens a report at path. The file rotates at 10MB and keeps three
// backups so abandoned long-running setups do not fill the disk.
func New(path string) *Log {
	return &Log{
		w: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10,
			MaxBackups: 3,
		},
		now: time.Now,
	}
}

func (l *Log) Record(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.w, "%s\t%s\t%s\t%s\t%s\t%v\n",
		l.now().UTC().Format(time.RFC3339),
		entry.PostID,
		entry.FolderName,
		entry.PartType,
		entry.RemoteRef,
		entry.Err,
	)
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Close()
}

// Discard is used when the report is disabled.
type Discard struct{}

func (Discard) Record(Entry) {}

func (Discard) Close() error { return nil }
