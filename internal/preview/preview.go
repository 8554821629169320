// Package preview implements the truncate-middle-bytes and
// first-N-lines preview conventions, plus spilling full
// payloads to a per-agent directory for the "preview in-band, full
// payload on disk" pattern used throughout the Agent Tool Dispatcher.
package preview

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxPreviewBytes is the hard cap preview_first_n_lines composes with.
const MaxPreviewBytes = 32 * 1024

const (
	truncatedSuffixNotice = "\n…preview truncated to roughly 32768 bytes…"
	omittedLinesNotice    = "\n…additional lines omitted…"
)

// TruncateMiddleBytes returns text unchanged if it is already within
// maxBytes. Otherwise it keeps a prefix and a suffix (splitting the
// budget evenly) and reports that truncation occurred. The cut points are
// adjusted backward/forward respectively so the result stays valid UTF-8.
func TruncateMiddleBytes(text string, maxBytes int) (result string, truncated bool, keptPrefix, keptSuffix int) {
	if maxBytes <= 0 || len(text) <= maxBytes {
		return text, false, len(text), 0
	}

	half := maxBytes / 2
	prefixEnd := charBoundaryAtMost(text, half)
	suffixStart := len(text) - charBoundaryFromEnd(text, maxBytes-half)
	if suffixStart < prefixEnd {
		suffixStart = prefixEnd
	}

	prefix := text[:prefixEnd]
	suffix := text[suffixStart:]
	marker := fmt.Sprintf("\n…%d bytes omitted…\n", suffixStart-prefixEnd)
	return prefix + marker + suffix, true, prefixEnd, len(suffix)
}

// charBoundaryAtMost returns the largest index <= n that is a valid UTF-8
// rune boundary in s.
func charBoundaryAtMost(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	if n < 0 {
		return 0
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

// charBoundaryFromEnd returns the largest count of trailing bytes <= n
// that form a valid UTF-8 boundary (i.e. len(s)-result is a rune start).
func charBoundaryFromEnd(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return len(s) - cut
}

// PreviewFirstNLines implements preview_first_n_lines: take up to n
// lines, then apply TruncateMiddleBytes at the 32 KiB cap, appending the
// appropriate notices.
func PreviewFirstNLines(text string, n int) (preview string, totalLines int) {
	lines := strings.Split(text, "\n")
	totalLines = len(lines)
	// Split on "\n" always yields one more element than the number of
	// newlines; a trailing newline produces a trailing empty element that
	// should not count as an extra line for an otherwise-empty text.
	if totalLines > 0 && lines[totalLines-1] == "" && strings.HasSuffix(text, "\n") {
		totalLines--
	}

	more := totalLines > n
	if n < 0 {
		n = 0
	}
	kept := lines
	if n < len(lines) {
		kept = lines[:n]
	}
	candidate := strings.Join(kept, "\n")

	truncatedText, wasTruncated, _, _ := TruncateMiddleBytes(candidate, MaxPreviewBytes)
	out := truncatedText
	if wasTruncated {
		out += truncatedSuffixNotice
	}
	if more {
		out += omittedLinesNotice
	}
	return out, totalLines
}

// WriteAgentFile writes the full payload to dir/name, creating dir if
// necessary, and returns the path the caller should expose under
// progress_file | output_file | error_file | status_file.
func WriteAgentFile(dir, name, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create agent spill dir %q: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write agent spill file %q: %w", path, err)
	}
	return path, nil
}
