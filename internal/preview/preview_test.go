package preview

import (
	"os"
	"strings"
	"testing"
)

func TestTruncateMiddleBytesFastPath(t *testing.T) {
	text := "short"
	got, truncated, prefix, suffix := TruncateMiddleBytes(text, 100)
	if truncated || got != text || prefix != len(text) || suffix != 0 {
		t.Fatalf("expected unchanged fast path, got %q truncated=%v", got, truncated)
	}
}

func TestTruncateMiddleBytesRespectsUTF8Boundaries(t *testing.T) {
	text := strings.Repeat("é", 1000) // each rune is 2 bytes
	got, truncated, _, _ := TruncateMiddleBytes(text, 101)
	if !truncated {
		t.Fatalf("expected truncation")
	}
	if !utf8Valid(got) {
		t.Fatalf("result is not valid UTF-8: %q", got)
	}
}

func utf8Valid(s string) bool {
	for _, r := range s {
		if r == 0xFFFD {
			return false
		}
	}
	return true
}

func TestPreviewFirstNLinesTotalLines(t *testing.T) {
	text := "a\nb\nc\nd\n"
	_, total := PreviewFirstNLines(text, 10)
	if total != 4 {
		t.Fatalf("expected 4 lines, got %d", total)
	}
}

func TestPreviewFirstNLinesOmitsAdditionalLines(t *testing.T) {
	text := "1\n2\n3\n4\n5\n"
	preview, total := PreviewFirstNLines(text, 2)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if !strings.Contains(preview, "additional lines omitted") {
		t.Fatalf("expected omitted-lines notice, got %q", preview)
	}
}

func TestPreviewFirstNLinesTruncatesLargeText(t *testing.T) {
	big := strings.Repeat("x", MaxPreviewBytes*2)
	preview, _ := PreviewFirstNLines(big, 1)
	if !strings.Contains(preview, "preview truncated to roughly 32768 bytes") {
		t.Fatalf("expected truncation notice in preview")
	}
}

func TestWriteAgentFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteAgentFile(dir, "result.txt", "ok")
	if err != nil {
		t.Fatalf("WriteAgentFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("os.ReadFile: %v", err)
	}
	if string(data) != "ok" {
		t.Fatalf("got %q, want %q", string(data), "ok")
	}
}
