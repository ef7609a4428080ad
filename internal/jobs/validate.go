package jobs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MimeLyc/tune-ripper/internal/source"
)

// Batch is a validated submission, ready to become a Job.
type Batch struct {
	URLs    []string
	Source  source.Kind
	Browser string
}

// ValidateBatch trims and checks a raw submission. Blank entries are
// dropped; duplicates are kept and become separate items.
func ValidateBatch(raw []string, sourceName string) (Batch, error) {
	urls := make([]string, 0, len(raw))
	for _, u := range raw {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}

	if len(urls) == 0 {
		return Batch{}, NewError(TypeValidation, "no links provided")
	}
	if len(urls) > MaxBatch {
		return Batch{}, NewError(TypeValidation,
			fmt.Sprintf("too many links: %d provided, maximum is %d", len(urls), MaxBatch)).
			WithContext("count", len(urls))
	}

	kind, err := source.Parse(sourceName)
	if err != nil {
		return Batch{}, NewErrorWithCause(TypeValidation, "invalid source type", err)
	}

	var invalid []string
	for i, u := range urls {
		if !kind.Allows(u) {
			invalid = append(invalid, strconv.Itoa(i+1))
		}
	}
	switch {
	case len(invalid) == len(urls):
		return Batch{}, NewError(TypeValidation,
			fmt.Sprintf("please provide valid %s URLs", kind.Label()))
	case len(invalid) > 0:
		return Batch{}, NewError(TypeValidation,
			fmt.Sprintf("invalid %s URL(s) at line(s): %s", kind.Label(), strings.Join(invalid, ", "))).
			WithContext("lines", invalid)
	}

	return Batch{URLs: urls, Source: kind}, nil
}

// WithBrowser sets the cookie source. Unsupported browsers are ignored.
func (b Batch) WithBrowser(browser string) Batch {
	b.Browser = source.NormalizeBrowser(browser)
	return b
}
