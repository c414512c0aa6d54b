// Package joblog is an append-only, checksummed per-job log writer and
// tailer: batched appends, CRC32-checksummed records, a background flush
// goroutine, and sequence-number recovery at open, applied to capturing a
// job's stdout/stderr for logs.tail.v1 rather than a replicated command log.
package joblog

// Stream identifies which child stream a Record line came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Record is one logged line, checksummed over the fields that define its
// identity (sequence, stream, and content).
type Record struct {
	Seq      uint64 `json:"seq"`
	Stream   Stream `json:"stream"`
	Line     string `json:"line"`
	Checksum uint32 `json:"checksum"`
}
