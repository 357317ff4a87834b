package intake

import "errors"

// Only ErrGeneratorUnavailable crosses the extraction boundary; the
// others are recovered into clarification-shaped results and surface,
// at most, in ExtractionResult.Error.
var (
	ErrEmptyMessage         = errors.New("intake: empty message")
	ErrMalformedResponse    = errors.New("intake: malformed generator response")
	ErrSchemaViolation      = errors.New("intake: generator response missing required keys")
	ErrValidationFailure    = errors.New("intake: extracted value failed validation")
	ErrGeneratorUnavailable = errors.New("intake: generator unavailable")

	ErrRecordNotFound = errors.New("intake: patient record not found")
)
