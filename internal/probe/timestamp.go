package probe

import (
	"encoding/binary"
	"time"
)

// TimestampPayload creates a payload containing the current timestamp.
// This is used to calculate RTT when the response is received.
func TimestampPayload(extraData []byte) []byte {
	// 8 bytes for timestamp + extra data
	payload := make([]byte, 8+len(extraData))
	binary.BigEndian.PutUint64(payload[0:8], uint64(time.Now().UnixNano()))
	if len(extraData) > 0 {
		copy(payload[8:], extraData)
	}
	return payload
}

// ExtractTimestamp extracts the timestamp from a payload.
func ExtractTimestamp(payload []byte) (time.Time, bool) {
	if len(payload) < 8 {
		return time.Time{}, false
	}
	nanos := binary.BigEndian.Uint64(payload[0:8])
	return time.Unix(0, int64(nanos)), true
}
