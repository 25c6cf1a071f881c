package badger

import (
	"encoding/binary"
)

// Key prefixes for different data types
const (
	podPrefix        = "pod"
	podItemPrefix    = "poditem"
	podItemIDPrefix  = "poditemid"
	podItemSeq       = "poditemseq"
	jobPrefix        = "job"
	podJobPrefix     = "podjob"
	chunkPrefix      = "vchunk"
	podIndexPrefix   = "podidx"
	deadLetterPrefix = "dlq"
)

func joinKey(parts ...string) []byte {
	size := len(parts) - 1
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, p...)
	}
	return buf
}

// makePodKey generates a key for a pod by ID.
func makePodKey(podID string) []byte {
	return joinKey(podPrefix, podID)
}

// makeItemKey generates a composite key for an item of a pod.
// Format: prefix:podID:seq
// The sequence is big endian so a prefix scan yields append order.
func makeItemKey(podID string, seq uint64) []byte {
	prefix := makePartialItemKey(podID)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

// makePartialItemKey generates the scan prefix for all items of a pod.
// Format: prefix:podID:
func makePartialItemKey(podID string) []byte {
	return append(joinKey(podItemPrefix, podID), ':')
}

// makeItemIDKey generates the lookup key mapping an item ID to its item key.
func makeItemIDKey(podID, itemID string) []byte {
	return joinKey(podItemIDPrefix, podID, itemID)
}

// makeJobKey generates a key for a job by ID.
func makeJobKey(jobID string) []byte {
	return joinKey(jobPrefix, jobID)
}

// makePodJobKey generates the index key listing a job under its pod.
// Job IDs sort by creation time, so a prefix scan is chronological.
func makePodJobKey(podID, jobID string) []byte {
	return joinKey(podJobPrefix, podID, jobID)
}

func makePartialPodJobKey(podID string) []byte {
	return append(joinKey(podJobPrefix, podID), ':')
}

// makeChunkKey generates a key for a vector chunk by ID.
// Chunk IDs begin with the pod ID, so all chunks of a pod share a prefix.
func makeChunkKey(chunkID string) []byte {
	return joinKey(chunkPrefix, chunkID)
}

func makePartialChunkKey(podID string) []byte {
	return append(joinKey(chunkPrefix, podID), ':')
}

// makePodIndexKey generates a key for the fallback index of a pod.
func makePodIndexKey(podID string) []byte {
	return joinKey(podIndexPrefix, podID)
}

// makeDeadLetterKey generates a key for a dead letter by ID.
func makeDeadLetterKey(id string) []byte {
	return joinKey(deadLetterPrefix, id)
}
