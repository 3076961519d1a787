package audio_test

import (
	"slices"
	"testing"

	"tonearm/internal/audio"
)

func TestParse(t *testing.T) {
	cases := map[string]audio.Format{"mp3": audio.MP3, " M4A ": audio.M4A}
	for input, want := range cases {
		got, err := audio.Parse(input)
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", input, err)
		}
		if got != want {
			t.Fatalf("Parse(%q) = %q, want %q", input, got, want)
		}
	}
	for _, bad := range []string{"", "flac", "wav"} {
		if _, err := audio.Parse(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestEncoderArgs(t *testing.T) {
	mp3 := audio.MP3.EncoderArgs()
	for _, want := range []string{"-vn", "44100", "192k", "libmp3lame"} {
		if !slices.Contains(mp3, want) {
			t.Fatalf("mp3 args %v missing %q", mp3, want)
		}
	}
	m4a := audio.M4A.EncoderArgs()
	if !slices.Contains(m4a, "aac") {
		t.Fatalf("m4a args %v missing aac", m4a)
	}
	if audio.M4A.ContentType() != "audio/mp4" || audio.MP3.ContentType() != "audio/mpeg" {
		t.Fatal("unexpected content types")
	}
}
