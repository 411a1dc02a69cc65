package converter

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// DetectInputKind detects the input kind of a file from its extension
func DetectInputKind(filename string) InputKind {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".mml":
		return KindNotation
	case ".mid", ".midi":
		return KindMIDI
	default:
		return KindUnknown
	}
}

// SniffInputKind detects the input kind from file content
func SniffInputKind(data []byte) InputKind {
	if len(data) < 4 {
		return KindUnknown
	}

	// Standard MIDI file signature "MThd"
	if string(data[:4]) == "MThd" {
		return KindMIDI
	}

	if utf8.Valid(data) {
		return KindNotation
	}

	return KindUnknown
}

// SupportedExtensions returns the input extensions accepted by Convert
func SupportedExtensions() []string {
	return []string{".mml", ".mid", ".midi"}
}

// Complexity buckets notation text by size
func Complexity(chars int) string {
	switch {
	case chars > 1000:
		return "High"
	case chars > 500:
		return "Medium"
	default:
		return "Low"
	}
}
