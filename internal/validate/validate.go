// Package validate enforces input constraints before any detector work
// happens: batch size, per-document content size, and required fields.
package validate

import (
	"fmt"

	apierrors "github.com/sentineldf/sentineldf/internal/errors"
	"github.com/sentineldf/sentineldf/internal/model"
)

// Limits is the validated-at-startup set of size constraints a batch
// request must satisfy.
type Limits struct {
	MaxDocsPerRequest int
	MaxDocBytes       int
}

// Batch checks a whole batch against Limits, returning a typed APIError
// on the first violation found. Post-normalization emptiness is checked
// by the caller once canonical text is available, since that check
// depends on the Normalizer.
func Batch(docs []model.Document, limits Limits) error {
	if len(docs) == 0 {
		return apierrors.New(apierrors.KindInvalidInput, "docs must not be empty")
	}
	if len(docs) > limits.MaxDocsPerRequest {
		return apierrors.Newf(apierrors.KindInvalidInput,
			"batch of %d documents exceeds max_docs_per_request=%d", len(docs), limits.MaxDocsPerRequest)
	}
	for i, d := range docs {
		if len(d.Content) == 0 {
			return apierrors.Newf(apierrors.KindInvalidInput, "docs[%d].content must not be empty", i)
		}
		if len(d.Content) > limits.MaxDocBytes {
			return apierrors.Newf(apierrors.KindPayloadTooLarge,
				"docs[%d].content of %d bytes exceeds max_doc_bytes=%d", i, len(d.Content), limits.MaxDocBytes)
		}
	}
	return nil
}

// CanonicalNotEmpty enforces the post-normalization emptiness invariant
// for a single document, given its index for error context.
func CanonicalNotEmpty(index int, canonical string) error {
	if canonical == "" {
		return apierrors.Newf(apierrors.KindInvalidInput,
			"docs[%d].content is empty after normalization", index)
	}
	return nil
}

// Error is a small convenience constructor used by handlers that need a
// validation failure not tied to a specific document index.
func Error(format string, args ...interface{}) error {
	return apierrors.New(apierrors.KindInvalidInput, fmt.Sprintf(format, args...))
}
