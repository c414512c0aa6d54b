package joblog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/semantica/task-engine/internal/apperr"
)

// Store resolves job log files under a base directory; one file per job id.
type Store struct {
	Dir string
}

func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) PathFor(jobID string) string {
	return filepath.Join(s.Dir, jobID+".jsonl")
}

// Writer opens (creating if needed) the batched writer for jobID. Callers
// must Close it when the job's execution finishes.
func (s *Store) Writer(jobID string) *Writer {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		// The executor still runs even if logging can't be set up; it will
		// simply discard output rather than fail the job over it.
		return discardWriter(jobID)
	}
	w, err := newWriter(s.PathFor(jobID), jobID)
	if err != nil {
		return discardWriter(jobID)
	}
	return w
}

func discardWriter(jobID string) *Writer {
	w := &Writer{jobID: jobID, closed: make(chan struct{})}
	w.stdoutW = &lineWriter{onLine: func(string) {}}
	w.stderrW = &lineWriter{onLine: func(string) {}}
	return w
}

// Tail returns the last n lines (stdout and stderr interleaved by sequence)
// recorded for jobID.
func (s *Store) Tail(jobID string, n int) ([]string, error) {
	path := s.PathFor(jobID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.Internal, "open job log", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // tolerate a partially-written trailing record.
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", rec.Stream, rec.Line))
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "scan job log", err)
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Remove deletes the log file for jobID.
func (s *Store) Remove(jobID string) error {
	return os.Remove(s.PathFor(jobID))
}
