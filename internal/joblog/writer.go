package joblog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	defaultBufferSize   = 100
	defaultFlushInterval = 10 * time.Millisecond
)

// Writer batches Records for one job and flushes them to an append-only
// file: accumulate, then write-and-fsync once, trading a little latency
// for much higher throughput than per-line fsync.
type Writer struct {
	jobID string
	file  *os.File
	enc   *json.Encoder

	mu     sync.Mutex
	seq    uint64
	buffer []Record

	maxBatchSize  int
	flushInterval time.Duration
	closed        chan struct{}
	wg            sync.WaitGroup

	stdoutBuf strings.Builder
	stderrBuf strings.Builder
	stdoutW   *lineWriter
	stderrW   *lineWriter
}

func newWriter(path, jobID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	// Recover the last sequence number already in the file so records
	// appended by a later open (e.g. a retry) keep increasing.
	var lastSeq uint64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec Record
		if json.Unmarshal(sc.Bytes(), &rec) == nil && rec.Seq > lastSeq {
			lastSeq = rec.Seq
		}
	}
	w := &Writer{
		jobID:         jobID,
		file:          f,
		seq:           lastSeq,
		enc:           json.NewEncoder(f),
		maxBatchSize:  defaultBufferSize,
		flushInterval: defaultFlushInterval,
		closed:        make(chan struct{}),
	}
	w.stdoutW = &lineWriter{onLine: func(line string) { w.append(StreamStdout, line, &w.stdoutBuf) }}
	w.stderrW = &lineWriter{onLine: func(line string) { w.append(StreamStderr, line, &w.stderrBuf) }}
	w.wg.Add(1)
	go w.flushLoop()
	return w, nil
}

func (w *Writer) Stdout() *lineWriter { return w.stdoutW }
func (w *Writer) Stderr() *lineWriter { return w.stderrW }

func (w *Writer) StdoutString() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stdoutBuf.String()
}

func (w *Writer) StderrString() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stderrBuf.String()
}

func (w *Writer) append(stream Stream, line string, mirror *strings.Builder) {
	w.mu.Lock()
	w.seq++
	rec := Record{Seq: w.seq, Stream: stream, Line: line}
	rec.Checksum = CalculateChecksum(rec.Seq, rec.Stream, rec.Line)
	w.buffer = append(w.buffer, rec)
	mirror.WriteString(line)
	mirror.WriteByte('\n')
	full := len(w.buffer) >= w.maxBatchSize
	w.mu.Unlock()
	if full {
		w.flush()
	}
}

func (w *Writer) flush() {
	w.mu.Lock()
	pending := w.buffer
	w.buffer = nil
	w.mu.Unlock()
	if len(pending) == 0 {
		return
	}
	for _, rec := range pending {
		_ = w.enc.Encode(rec)
	}
	_ = w.file.Sync()
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.flush()
		case <-w.closed:
			return
		}
	}
}

// Close flushes remaining buffered records, stops the background flush
// goroutine, and closes the underlying file.
func (w *Writer) Close() error {
	w.stdoutW.Flush()
	w.stderrW.Flush()
	close(w.closed)
	w.wg.Wait()
	w.flush()
	return w.file.Close()
}

// lineWriter implements io.Writer, splitting arbitrary writes on newlines
// and invoking onLine for each complete line. It is how cmd.Stdout/Stderr
// (which write arbitrary-sized chunks) feed the per-line Record model.
type lineWriter struct {
	mu     sync.Mutex
	pend   bytes.Buffer
	onLine func(line string)
}

func (lw *lineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.pend.Write(p)
	for {
		data := lw.pend.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := string(data[:idx])
		lw.pend.Next(idx + 1)
		lw.onLine(line)
	}
	return len(p), nil
}

func (lw *lineWriter) Flush() {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.pend.Len() > 0 {
		lw.onLine(lw.pend.String())
		lw.pend.Reset()
	}
}
