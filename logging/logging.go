package logging

import (
	"io"
	"log"
	"os"
	"sync"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

const maxLogSize = 2 * 1024 * 1024 // 2MB

// RotatingWriter is a size-capped log file with a single ".1" backup.
type RotatingWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
}

// Setup tees the standard logger to stdout and logPath.
func Setup(logPath string) (*RotatingWriter, error) {
	rw, err := NewRotatingWriter(logPath, maxLogSize)
	if err != nil {
		return nil, err
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(io.MultiWriter(os.Stdout, rw))

	return rw, nil
}

func NewRotatingWriter(path string, maxSize int64) (*RotatingWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	rw := &RotatingWriter{file: f, path: path, size: size, maxSize: maxSize}
	if size > maxSize {
		rw.rotate()
	}
	return rw, nil
}

func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err = w.file.Write(p)
	w.size += int64(n)

	if w.size > w.maxSize {
		w.rotate()
	}

	return n, err
}

func (w *RotatingWriter) rotate() {
	w.file.Close()

	os.Rename(w.path, w.path+".1")

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return
	}

	w.file = f
	w.size = 0
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Sink stores log lines where a dashboard can read them.
type Sink interface {
	Log(level models.LogLevel, sourceID *int64, message string) error
}

// Persist returns a log hook writing to sink. Write failures go to the
// standard logger only.
func Persist(sink Sink) func(level models.LogLevel, sourceID *int64, message string) {
	return func(level models.LogLevel, sourceID *int64, message string) {
		if err := sink.Log(level, sourceID, message); err != nil {
			log.Printf("Failed to persist log line: %v", err)
		}
	}
}
