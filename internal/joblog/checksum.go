package joblog

import (
	"fmt"
	"hash/crc32"
)

// CalculateChecksum is CRC32-IEEE over the concatenation of the record's
// identity fields.
func CalculateChecksum(seq uint64, stream Stream, line string) uint32 {
	data := fmt.Sprintf("%d:%s:%s", seq, stream, line)
	return crc32.ChecksumIEEE([]byte(data))
}

// VerifyChecksum reports whether r.Checksum matches its recomputed value.
func VerifyChecksum(r Record) bool {
	return r.Checksum == CalculateChecksum(r.Seq, r.Stream, r.Line)
}
