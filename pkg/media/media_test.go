package media

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestContentType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"a.mp4", "video/mp4"},
		{"A.MP4", "video/mp4"},
		{"playlist.m3u8", "application/vnd.apple.mpegurl"},
		{"seg_001.ts", "video/mp2t"},
		{"clip.webm", "video/webm"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := ContentType(tt.path); got != tt.want {
				t.Fatalf("ContentType(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestContentType_SniffsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.bin")
	if err := os.WriteFile(path, []byte("plain text body"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := ContentType(path); got != "text/plain; charset=utf-8" {
		t.Fatalf("unexpected sniffed type %q", got)
	}
}

func TestContentType_MissingFile(t *testing.T) {
	if got := ContentType(filepath.Join(t.TempDir(), "nope.bin")); got != "application/octet-stream" {
		t.Fatalf("unexpected type %q", got)
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("125.640000\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Truncate(time.Second) != 125*time.Second {
		t.Fatalf("unexpected duration %s", d)
	}
	if _, err := ParseDuration("N/A"); err == nil {
		t.Fatalf("expected error for N/A")
	}
}

func TestNormalizeArgs(t *testing.T) {
	args := NormalizeArgs("in.webm", "out.mp4")
	if args[0] != "-fflags" || args[1] != "+genpts" {
		t.Fatalf("expected timestamp regeneration first, got %v", args[:2])
	}
	if args[len(args)-1] != "out.mp4" {
		t.Fatalf("expected output last, got %v", args)
	}
}
