package audiomerge

import (
	"bytes"
	"errors"
)

// ErrNoChunks is returned when Merge is called with nothing to merge.
var ErrNoChunks = errors.New("no audio chunks to merge")

// Merge concatenates ordered MP3 buffers of the same encoding and bitrate
// into a single stream. MP3 frames are self-contained, so frame streams can
// be joined without re-encoding; only container metadata has to go. A
// single-chunk input is returned unchanged.
func Merge(chunks [][]byte) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	if len(chunks) == 1 {
		return chunks[0], nil
	}

	var out bytes.Buffer
	for i, chunk := range chunks {
		if i > 0 {
			// A mid-stream ID3v2 tag would play as a glitch.
			chunk = stripID3v2(chunk)
		}
		out.Write(chunk)
	}
	return out.Bytes(), nil
}

// stripID3v2 removes a leading ID3v2 tag, if present. The tag header is
// 10 bytes: "ID3", version (2), flags (1), and a 4-byte synchsafe size.
func stripID3v2(data []byte) []byte {
	if len(data) < 10 || !bytes.HasPrefix(data, []byte("ID3")) {
		return data
	}
	size := int(data[6]&0x7f)<<21 | int(data[7]&0x7f)<<14 | int(data[8]&0x7f)<<7 | int(data[9]&0x7f)
	total := 10 + size
	if total > len(data) {
		return data
	}
	return data[total:]
}
