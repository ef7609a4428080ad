// Package artifact names the audio files produced for a job and turns them
// back into presentable titles.
package artifact

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/MimeLyc/tune-ripper/pkg/file"
)

const Extension = ".mp3"

var (
	jobPrefixRe = regexp.MustCompile(`^[a-f0-9]{8}_`)
	indexRe     = regexp.MustCompile(`^[0-9]+_`)
)

// Prefix is the file name prefix owned by one item. Batches carry a 1-based
// index so same-titled items never collide.
func Prefix(jobID string, index, total int) string {
	if total <= 1 {
		return jobID
	}
	return fmt.Sprintf("%s_%d", jobID, index+1)
}

// OutputTemplate is the yt-dlp output template for an item prefix.
func OutputTemplate(prefix string) string {
	return prefix + "_%(title)s.%(ext)s"
}

// Owns reports whether name was produced for the item with the given prefix.
func Owns(prefix, name string) bool {
	return strings.HasPrefix(name, prefix+"_") && strings.HasSuffix(strings.ToLower(name), Extension)
}

// DisplayName strips the job prefix, the batch index (when batch is set) and
// the extension from an artifact name.
func DisplayName(name string, batch bool) string {
	out := jobPrefixRe.ReplaceAllString(name, "")
	if batch {
		out = indexRe.ReplaceAllString(out, "")
	}
	if strings.HasSuffix(strings.ToLower(out), Extension) {
		out = file.TrimExt(out)
	}
	return Sanitize(out)
}

var sanitizer = transform.Chain(
	runes.Remove(runes.In(unicode.Cc)),
	runes.Map(func(r rune) rune {
		if r == '/' || r == '\\' {
			return '_'
		}
		return r
	}),
	norm.NFC,
)

// Sanitize drops control characters and path separators and normalizes to NFC.
func Sanitize(s string) string {
	out, _, err := transform.String(sanitizer, s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(out)
}
