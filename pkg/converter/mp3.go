package converter

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

const id3HeaderSize = 10

// id3Skip returns the number of bytes taken by a leading ID3v2 tag in head,
// or 0 when head does not start with one
func id3Skip(head []byte) int {
	if len(head) < id3HeaderSize || string(head[:3]) != "ID3" {
		return 0
	}
	// tag size is a 28-bit syncsafe integer
	for _, b := range head[6:10] {
		if b&0x80 != 0 {
			return 0
		}
	}
	size := int(head[6])<<21 | int(head[7])<<14 | int(head[8])<<7 | int(head[9])
	skip := id3HeaderSize + size
	if head[5]&0x10 != 0 {
		skip += id3HeaderSize // footer
	}
	return skip
}

// isFrameSync reports whether b starts with a plausible MPEG audio frame header
func isFrameSync(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	if b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return false
	}
	version := (b[1] >> 3) & 0x03
	layer := (b[1] >> 1) & 0x03
	bitrate := b[2] >> 4
	rate := (b[2] >> 2) & 0x03
	return version != 0x01 && layer != 0x00 && bitrate != 0x0F && rate != 0x03
}

// HasFrameHeader reports whether data starts with an MPEG audio frame,
// optionally preceded by an ID3v2 tag
func HasFrameHeader(data []byte) bool {
	skip := id3Skip(data)
	if skip > len(data) {
		return false
	}
	return isFrameSync(data[skip:])
}

// VerifyMP3File checks that the file at path begins with an MP3 frame header
func VerifyMP3File(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "failed to open MP3 output")
	}
	defer f.Close()

	head := make([]byte, id3HeaderSize)
	if _, err := io.ReadFull(f, head); err != nil {
		return errors.Wrap(err, "MP3 output is too short")
	}

	if skip := id3Skip(head); skip > 0 {
		if _, err := f.Seek(int64(skip), io.SeekStart); err != nil {
			return errors.Wrap(err, "failed to skip ID3 tag")
		}
		head = head[:4]
		if _, err := io.ReadFull(f, head); err != nil {
			return errors.Wrap(err, "MP3 output ends after its ID3 tag")
		}
	}

	if !isFrameSync(head) {
		return errors.New("MP3 output does not start with a frame header")
	}
	return nil
}
