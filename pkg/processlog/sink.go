package processlog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/core-tools/hsu-deploy/pkg/descriptor"
	"github.com/core-tools/hsu-deploy/pkg/errors"
)

const timestampLayout = "2006-01-02T15:04:05"

type Options struct {
	// Timestamp prefixes every line with the local time, like pm2's `time: true`.
	Timestamp bool
	Now       func() time.Time
}

// Sink routes a process's output to its log files: stdout to the out and
// combined files, stderr to the error and combined files.
type Sink struct {
	files  []*lockedFile
	stdout *lineWriter
	stderr *lineWriter
}

type lockedFile struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func (f *lockedFile) writeLine(line []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.file.Write(line)
	return err
}

// Open creates parent directories and opens every configured file in append mode.
// Empty paths are skipped; a path listed twice is opened once.
func Open(paths descriptor.LogPaths, options Options) (*Sink, error) {
	if options.Now == nil {
		options.Now = time.Now
	}

	sink := &Sink{}
	opened := make(map[string]*lockedFile)
	open := func(path string) (*lockedFile, error) {
		if path == "" {
			return nil, nil
		}
		if f, ok := opened[path]; ok {
			return f, nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.NewIOError("failed to create log directory", err).WithContext("path", path)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, errors.NewIOError("failed to open log file", err).WithContext("path", path)
		}
		f := &lockedFile{path: path, file: file}
		opened[path] = f
		sink.files = append(sink.files, f)
		return f, nil
	}

	out, err := open(paths.OutFile)
	if err != nil {
		sink.Close()
		return nil, err
	}
	errFile, err := open(paths.ErrorFile)
	if err != nil {
		sink.Close()
		return nil, err
	}
	combined, err := open(paths.CombinedFile)
	if err != nil {
		sink.Close()
		return nil, err
	}

	sink.stdout = newLineWriter(options, dedupe(out, combined))
	sink.stderr = newLineWriter(options, dedupe(errFile, combined))
	return sink, nil
}

func dedupe(files ...*lockedFile) []*lockedFile {
	var out []*lockedFile
	for _, f := range files {
		if f == nil {
			continue
		}
		duplicate := false
		for _, existing := range out {
			if existing == f {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, f)
		}
	}
	return out
}

func (s *Sink) Stdout() io.Writer {
	return s.stdout
}

func (s *Sink) Stderr() io.Writer {
	return s.stderr
}

// Close flushes partial lines and closes the files.
func (s *Sink) Close() error {
	errs := errors.NewErrorCollection()
	if s.stdout != nil {
		errs.Add(s.stdout.flush())
	}
	if s.stderr != nil {
		errs.Add(s.stderr.flush())
	}
	for _, f := range s.files {
		errs.Add(f.file.Close())
	}
	s.files = nil
	return errs.ToError()
}

// lineWriter splits writes into lines so timestamps and interleaving in the
// combined file stay line-aligned.
type lineWriter struct {
	mu      sync.Mutex
	options Options
	targets []*lockedFile
	pending []byte
}

func newLineWriter(options Options, targets []*lockedFile) *lineWriter {
	return &lineWriter{options: options, targets: targets}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.targets) == 0 {
		return len(p), nil
	}

	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		if err := w.emit(w.pending[:i+1]); err != nil {
			return 0, err
		}
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 || len(w.targets) == 0 {
		return nil
	}
	line := append(w.pending, '\n')
	w.pending = nil
	return w.emit(line)
}

func (w *lineWriter) emit(line []byte) error {
	if w.options.Timestamp {
		line = append([]byte(fmt.Sprintf("%s: ", w.options.Now().Format(timestampLayout))), line...)
	}
	for _, target := range w.targets {
		if err := target.writeLine(line); err != nil {
			return errors.NewIOError("failed to write log line", err).WithContext("path", target.path)
		}
	}
	return nil
}
