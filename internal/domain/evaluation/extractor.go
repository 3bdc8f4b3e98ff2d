package evaluation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Extract locates the span between the first '{' and the last '}' in text
// and decodes it as an Evaluation. Surrounding prose is ignored; anything
// wrong inside the span is an error.
func Extract(text string) (Evaluation, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return Evaluation{}, ErrNoStructuredPayload
	}

	span := []byte(text[start : end+1])
	dec := json.NewDecoder(bytes.NewReader(span))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return Evaluation{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if rest := bytes.TrimSpace(span[dec.InputOffset():]); len(rest) > 0 {
		return Evaluation{}, fmt.Errorf("%w: trailing data after object", ErrMalformedPayload)
	}
	if payload == nil {
		return Evaluation{}, fmt.Errorf("%w: not an object", ErrMalformedPayload)
	}

	good, ok := payload["good_picture"].(bool)
	if !ok {
		return Evaluation{}, &FieldError{Field: "good_picture", Reason: "must be a boolean"}
	}

	rate, err := parseRate(payload["rate"])
	if err != nil {
		return Evaluation{}, err
	}

	reason, ok := payload["reason"].(string)
	if !ok {
		return Evaluation{}, &FieldError{Field: "reason", Reason: "must be a string"}
	}
	if strings.TrimSpace(reason) == "" {
		return Evaluation{}, &FieldError{Field: "reason", Reason: "must not be empty"}
	}

	return Evaluation{GoodPicture: good, Rate: rate, Reason: reason}, nil
}

func parseRate(v any) (int, error) {
	num, ok := v.(json.Number)
	if !ok {
		return 0, &FieldError{Field: "rate", Reason: "must be a number"}
	}

	var rate int64
	if i, err := num.Int64(); err == nil {
		rate = i
	} else {
		f, ferr := num.Float64()
		if ferr != nil || f != float64(int64(f)) {
			return 0, &FieldError{Field: "rate", Reason: "must be an integer"}
		}
		rate = int64(f)
	}

	if rate < MinRate || rate > MaxRate {
		return 0, &FieldError{Field: "rate", Reason: fmt.Sprintf("must be between %d and %d", MinRate, MaxRate)}
	}
	return int(rate), nil
}
