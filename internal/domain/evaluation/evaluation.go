// Package evaluation holds the photo verdict model and the routine that
// pulls it out of free-form model output.
package evaluation

import (
	"errors"
	"fmt"
	"strings"
)

// Rate bounds, inclusive.
const (
	MinRate = 1
	MaxRate = 5
)

// Evaluation is the structured verdict the model returns for one photo.
type Evaluation struct {
	GoodPicture bool   `json:"good_picture"`
	Rate        int    `json:"rate"`
	Reason      string `json:"reason"`
}

var (
	ErrNoStructuredPayload = errors.New("no structured payload in response")
	ErrMalformedPayload    = errors.New("malformed structured payload")
	ErrInvalidField        = errors.New("invalid field")
)

// FieldError names the field that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid field %q", e.Field)
	}
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

func (e *FieldError) Is(target error) bool {
	return target == ErrInvalidField
}

// Accumulator buffers fragments in arrival order.
type Accumulator struct {
	buf       strings.Builder
	fragments int
}

func (a *Accumulator) Append(fragment string) {
	a.buf.WriteString(fragment)
	a.fragments++
}

func (a *Accumulator) String() string { return a.buf.String() }

func (a *Accumulator) Len() int { return a.buf.Len() }

// Fragments reports how many fragments were appended, empty ones included.
func (a *Accumulator) Fragments() int { return a.fragments }
