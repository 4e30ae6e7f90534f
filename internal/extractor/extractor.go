// Package extractor turns free-text supplier messages into structured
// price facts via a pluggable language-understanding capability.
package extractor

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/pricedesk/quotes-cli/internal/model"
)

// ErrUnavailable means the extraction capability is unreachable or
// unconfigured. Messages hit by it are parked until an operator retry,
// never retried in a loop.
var ErrUnavailable = eris.New("extractor: service unavailable")

// ErrNoExtraction means the capability ran but produced no usable fact:
// unparseable output, missing product name, or a non-positive price.
var ErrNoExtraction = eris.New("extractor: no usable fact")

// Extractor is the capability boundary for free-text understanding.
// Implementations are pure request/response with no side effects; when
// a message mentions several products they pick the most prominent one.
type Extractor interface {
	Extract(ctx context.Context, text string) (*model.ExtractedFact, error)
}
