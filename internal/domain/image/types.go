package image

import "errors"

var (
	// ErrInvalidFrame is returned when the inbound text is not decodable base64.
	ErrInvalidFrame = errors.New("invalid image frame")
	// ErrInvalidImage is returned when decoded bytes fail validation.
	ErrInvalidImage = errors.New("invalid image")
)

// ValidationResult captures the outcome of security validation.
type ValidationResult struct {
	IsValid      bool
	Format       string
	Width        int
	Height       int
	FileSize     int64
	Error        error
	SecurityRisk string
}

// MIMEType maps a decoder format name to its media type.
func MIMEType(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
