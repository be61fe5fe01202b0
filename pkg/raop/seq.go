// ABOUTME: Wraparound-aware comparison of RTP sequence numbers and timestamps
// ABOUTME: 16-bit sequences and 32-bit timestamps compare by signed distance
package raop

// seqDiff is the signed distance from a to b, so 65535 -> 0 is +1
func seqDiff(a, b uint16) int {
	return int(int16(b - a))
}

// seqAtOrBefore reports whether a equals b or comes before it
func seqAtOrBefore(a, b uint16) bool {
	return seqDiff(a, b) >= 0
}

// timestampAtOrBefore reports whether timestamp a is at or before b
func timestampAtOrBefore(a, b uint32) bool {
	return int32(b-a) >= 0
}
