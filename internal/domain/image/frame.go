package image

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DecodeFrame turns the text an inbound message carries into image bytes.
// A "data:<mime>;base64," header is stripped first; padded and unpadded
// standard base64 are both accepted.
func DecodeFrame(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "data:") {
		idx := strings.IndexByte(text, ',')
		if idx < 0 {
			return nil, fmt.Errorf("%w: data uri without payload", ErrInvalidFrame)
		}
		text = text[idx+1:]
	}
	if text == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidFrame)
	}

	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		var rawErr error
		raw, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(text, "="))
		if rawErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidFrame)
	}
	return raw, nil
}
