// Package audio defines the closed set of output encodings tonearm produces
// and the fixed encoder parameters that go with each.
package audio

import (
	"fmt"
	"strings"
)

// Format is a requested output encoding.
type Format string

const (
	MP3 Format = "mp3"
	M4A Format = "m4a"
)

// Fixed encoder parameters shared by every format.
const (
	SampleRate = 44100
	Channels   = 2
	Bitrate    = "192k"
)

// Formats returns the supported formats in display order.
func Formats() []Format {
	return []Format{MP3, M4A}
}

// Parse normalizes a caller-provided format string.
func Parse(value string) (Format, error) {
	normalized := Format(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case MP3, M4A:
		return normalized, nil
	case "":
		return "", fmt.Errorf("format is required (one of %s)", supportedList())
	default:
		return "", fmt.Errorf("unsupported format %q (one of %s)", value, supportedList())
	}
}

// Valid reports whether f is a supported format.
func (f Format) Valid() bool {
	return f == MP3 || f == M4A
}

// Extension returns the file extension without the leading dot.
func (f Format) Extension() string {
	return string(f)
}

// Codec returns the ffmpeg audio encoder for the format.
func (f Format) Codec() string {
	switch f {
	case M4A:
		return "aac"
	default:
		return "libmp3lame"
	}
}

// ContentType returns the MIME type served for published artifacts.
func (f Format) ContentType() string {
	switch f {
	case M4A:
		return "audio/mp4"
	default:
		return "audio/mpeg"
	}
}

// EncoderArgs returns the ffmpeg output options for the format, excluding
// input and output paths.
func (f Format) EncoderArgs() []string {
	args := []string{
		"-vn",
		"-ar", fmt.Sprint(SampleRate),
		"-ac", fmt.Sprint(Channels),
		"-b:a", Bitrate,
		"-c:a", f.Codec(),
	}
	if f == M4A {
		args = append(args, "-movflags", "+faststart")
	}
	return args
}

func supportedList() string {
	formats := Formats()
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
