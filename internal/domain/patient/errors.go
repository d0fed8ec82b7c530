package patient

import (
	"errors"
	"strings"
)

var (
	// ErrStoreUnavailable means the patient file is missing or unparsable.
	ErrStoreUnavailable = errors.New("patient store unavailable")
	// ErrMalformedExternalRecord means an external record could not be mapped.
	ErrMalformedExternalRecord = errors.New("malformed external record")
	// ErrConcurrentModification means the file changed between load and save.
	ErrConcurrentModification = errors.New("patient store was modified concurrently")
	// ErrValidation means a manually entered record failed validation.
	ErrValidation = errors.New("invalid patient record")
	// ErrNotFound means no stored record has the requested external id.
	ErrNotFound = errors.New("patient record not found")
	// ErrInvalidSignature means a webhook notification failed verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every rejected field of a submission.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Message
	}
	return "invalid patient record: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
