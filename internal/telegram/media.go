package telegram

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// ImageDimensions reads width and height from a PNG, GIF or JPEG header.
// Unknown or unreadable files report 0, 0.
func ImageDimensions(path string) (int, int) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer f.Close()
	r := bufio.NewReader(f)

	head, err := r.Peek(24)
	if err != nil && len(head) < 10 {
		return 0, 0
	}
	switch {
	case bytes.HasPrefix(head, pngSignature) && len(head) >= 24:
		return int(binary.BigEndian.Uint32(head[16:20])), int(binary.BigEndian.Uint32(head[20:24]))
	case bytes.HasPrefix(head, []byte("GIF8")):
		return int(binary.LittleEndian.Uint16(head[6:8])), int(binary.LittleEndian.Uint16(head[8:10]))
	case head[0] == 0xFF && head[1] == 0xD8:
		return jpegDimensions(r)
	}
	return 0, 0
}

// jpegDimensions walks JPEG segments to the first SOF0-SOF3 marker.
func jpegDimensions(r *bufio.Reader) (int, int) {
	if _, err := r.Discard(2); err != nil {
		return 0, 0
	}
	var marker [2]byte
	for {
		if _, err := io.ReadFull(r, marker[:]); err != nil || marker[0] != 0xFF {
			return 0, 0
		}
		if marker[1] >= 0xC0 && marker[1] <= 0xC3 {
			var sof [7]byte
			if _, err := io.ReadFull(r, sof[:]); err != nil {
				return 0, 0
			}
			h := binary.BigEndian.Uint16(sof[3:5])
			w := binary.BigEndian.Uint16(sof[5:7])
			return int(w), int(h)
		}
		var length [2]byte
		if _, err := io.ReadFull(r, length[:]); err != nil {
			return 0, 0
		}
		n := int(binary.BigEndian.Uint16(length[:])) - 2
		if n < 0 {
			return 0, 0
		}
		if _, err := r.Discard(n); err != nil {
			return 0, 0
		}
	}
}
