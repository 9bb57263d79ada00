package envelope

import (
	"encoding/json"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/c360/objectrelay/errors"
)

// ObjectType is the closed set of object kinds the system stores. Each tag
// carries its own content validator; adding a kind means adding a constant
// and a case below, nothing else.
type ObjectType string

const (
	TypeJSON  ObjectType = "JSON"
	TypeImage ObjectType = "IMAGE"
	TypePDF   ObjectType = "PDF"
)

// Valid reports whether the type is one of the closed set
func (t ObjectType) Valid() bool {
	switch t {
	case TypeJSON, TypeImage, TypePDF:
		return true
	}
	return false
}

// Validate checks that the payload content matches the declared type.
// The check is on content, not on client-supplied metadata: JSON must parse,
// images and PDFs must carry the right magic bytes. Mismatches are
// Invalid-classified and map to a VALIDATION_ERROR result.
func (t ObjectType) Validate(payload []byte) error {
	if len(payload) == 0 {
		return errors.WrapInvalid(errors.ErrEmptyPayload, "ObjectType", "Validate", "empty payload")
	}

	switch t {
	case TypeJSON:
		if !json.Valid(payload) {
			return errors.WrapInvalid(errors.ErrInvalidEnvelope, "ObjectType", "Validate",
				"payload is not valid JSON")
		}
		return nil

	case TypeImage:
		detected := mimetype.Detect(payload)
		if !strings.HasPrefix(detected.String(), "image/") {
			return errors.WrapInvalid(errors.ErrInvalidEnvelope, "ObjectType", "Validate",
				"expected image content, detected "+detected.String())
		}
		return nil

	case TypePDF:
		detected := mimetype.Detect(payload)
		if !detected.Is("application/pdf") {
			return errors.WrapInvalid(errors.ErrInvalidEnvelope, "ObjectType", "Validate",
				"expected application/pdf, detected "+detected.String())
		}
		return nil

	default:
		return errors.WrapInvalid(errors.ErrInvalidEnvelope, "ObjectType", "Validate",
			"unknown object type "+string(t))
	}
}

// ContentType returns the MIME type to store alongside the payload. For
// images the sniffed subtype is used since IMAGE spans png/jpeg/gif/....
func (t ObjectType) ContentType(payload []byte) string {
	switch t {
	case TypeJSON:
		return "application/json"
	case TypePDF:
		return "application/pdf"
	case TypeImage:
		return mimetype.Detect(payload).String()
	default:
		return "application/octet-stream"
	}
}
