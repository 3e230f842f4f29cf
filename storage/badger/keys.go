package badger

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/noctiluca/reverie/core"
)

// Key prefixes for different data types
const (
	jobRecordPrefix       = "embjob"
	jobNarrativePrefix    = "embjobnar"
	jobPendingPrefix      = "embjobpen"
	jobProcessingPrefix   = "embjobpro"
	jobIDSeq              = "embjobseq"
	narrativeStatusPrefix = "narstat"
	chunkRecordPrefix     = "embchk"
	themeRecordPrefix     = "themrec"
	themeLinkPrefix       = "themlnk"
	fragmentRecordPrefix  = "fragrec"
)

// makeJobKey generates a key for a job by ID.
func makeJobKey(id core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%d", jobRecordPrefix, id))
}

// makeJobNarrativeKey generates the unique-by-narrative index key.
func makeJobNarrativeKey(narrativeID core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%d", jobNarrativePrefix, narrativeID))
}

// makeJobPendingKey generates a composite key for the pending index.
// Format: prefix:^priority:scheduledAt:id, all BigEndian so lexicographic
// iteration yields priority DESC, scheduledAt ASC, id ASC.
func makeJobPendingKey(priority int, scheduledAt time.Time, id core.ID) []byte {
	prefix := jobPendingPrefix + ":"
	prefixBytes := []byte(prefix)
	buf := make([]byte, len(prefixBytes)+24)
	offset := copy(buf, prefixBytes)
	// Bias the signed priority into an orderable uint64, then invert it
	// so higher priorities sort first.
	biased := uint64(int64(priority)) + (1 << 63)
	binary.BigEndian.PutUint64(buf[offset:], ^biased)
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], uint64(scheduledAt.UnixMicro()))
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// jobPendingScanPrefix is the prefix for iterating the whole pending index.
func jobPendingScanPrefix() []byte {
	return []byte(jobPendingPrefix + ":")
}

// makeJobProcessingKey generates a composite key for the processing index.
// Format: prefix:startedAt:id, BigEndian so iteration yields oldest first.
func makeJobProcessingKey(startedAt time.Time, id core.ID) []byte {
	prefix := jobProcessingPrefix + ":"
	prefixBytes := []byte(prefix)
	buf := make([]byte, len(prefixBytes)+16)
	offset := copy(buf, prefixBytes)
	binary.BigEndian.PutUint64(buf[offset:], uint64(startedAt.UnixMicro()))
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// jobProcessingScanPrefix is the prefix for iterating the processing index.
func jobProcessingScanPrefix() []byte {
	return []byte(jobProcessingPrefix + ":")
}

// makeNarrativeStatusKey generates a key for a narrative's denormalized status.
func makeNarrativeStatusKey(narrativeID core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%d", narrativeStatusPrefix, narrativeID))
}

// makeChunkKey generates a key for an embedding chunk.
// Format: prefix:narrativeID:version:index. The version tag must not
// contain ':' (enforced at ingestion); the trailing BigEndian index keeps
// per-version iteration ordered by chunk index.
func makeChunkKey(narrativeID core.ID, version string, index int) []byte {
	prefix := fmt.Sprintf("%s:%d:%s:", chunkRecordPrefix, narrativeID, version)
	prefixBytes := []byte(prefix)
	buf := make([]byte, len(prefixBytes)+8)
	offset := copy(buf, prefixBytes)
	binary.BigEndian.PutUint64(buf[offset:], uint64(index))
	return buf
}

// makeChunkVersionPrefix generates the prefix for iterating all chunks of a
// narrative under one embedding version.
func makeChunkVersionPrefix(narrativeID core.ID, version string) []byte {
	return []byte(fmt.Sprintf("%s:%d:%s:", chunkRecordPrefix, narrativeID, version))
}

// makeThemeKey generates a key for a theme catalog entry by code.
func makeThemeKey(code string) []byte {
	return []byte(themeRecordPrefix + ":" + code)
}

// themeScanPrefix is the prefix for iterating the whole theme catalog.
func themeScanPrefix() []byte {
	return []byte(themeRecordPrefix + ":")
}

// makeThemeLinkKey generates a composite key for a narrative-theme link.
// Format: prefix:narrativeID:code.
func makeThemeLinkKey(narrativeID core.ID, code string) []byte {
	prefix := themeLinkPrefix + ":"
	prefixBytes := []byte(prefix)
	buf := make([]byte, len(prefixBytes)+8+len(code))
	offset := copy(buf, prefixBytes)
	binary.BigEndian.PutUint64(buf[offset:], uint64(narrativeID))
	offset += 8
	copy(buf[offset:], code)
	return buf
}

// makeThemeLinkNarrativePrefix generates the prefix for iterating all links
// of a narrative.
func makeThemeLinkNarrativePrefix(narrativeID core.ID) []byte {
	prefix := themeLinkPrefix + ":"
	prefixBytes := []byte(prefix)
	buf := make([]byte, len(prefixBytes)+8)
	offset := copy(buf, prefixBytes)
	binary.BigEndian.PutUint64(buf[offset:], uint64(narrativeID))
	return buf
}

// makeFragmentKey generates a key for a reference fragment by ID.
func makeFragmentKey(id core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%d", fragmentRecordPrefix, id))
}

// fragmentScanPrefix is the prefix for iterating the whole fragment catalog.
func fragmentScanPrefix() []byte {
	return []byte(fragmentRecordPrefix + ":")
}
