package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"camrate-server-go/internal/platform/config"
	"camrate-server-go/internal/platform/logging"
)

const upstreamJPEGQuality = 85

// Pipeline validates frames and prepares the payload sent to the model.
type Pipeline struct {
	validator *SecurityValidator
	logger    *logging.Logger
	security  *config.SecurityConfig
}

// Options configures the pipeline behaviour.
type Options struct {
	Security *config.SecurityConfig
	Logger   *logging.Logger
}

// Input describes one decoded frame.
type Input struct {
	Bytes          []byte
	DeclaredFormat string
	Source         string
}

// Output carries the original bytes untouched plus what validation learned.
type Output struct {
	Bytes      []byte
	Format     string
	Width      int
	Height     int
	Validation ValidationResult
}

func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Security == nil {
		return nil, fmt.Errorf("security config is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &Pipeline{
		validator: NewSecurityValidator(opts.Security, opts.Logger),
		logger:    opts.Logger,
		security:  opts.Security,
	}, nil
}

// Process validates the frame. Errors wrap ErrInvalidImage.
func (p *Pipeline) Process(ctx context.Context, input Input) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	validation := p.validator.ValidateBytes(input.Bytes, input.DeclaredFormat)
	if !validation.IsValid {
		if validation.Error == nil {
			validation.Error = fmt.Errorf("image validation failed")
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, validation.Error)
	}

	return &Output{
		Bytes:      input.Bytes,
		Format:     validation.Format,
		Width:      validation.Width,
		Height:     validation.Height,
		Validation: validation,
	}, nil
}

// Upstream returns the media type and base64 payload for the model request.
// Frames larger than upstream_max_dimension are downscaled and re-encoded as
// JPEG; out.Bytes itself is never modified.
func (p *Pipeline) Upstream(out *Output) (string, string, error) {
	limit := p.security.UpstreamMaxDimension
	if limit <= 0 || (out.Width <= limit && out.Height <= limit) {
		return MIMEType(out.Format), base64.StdEncoding.EncodeToString(out.Bytes), nil
	}

	src, _, err := image.Decode(bytes.NewReader(out.Bytes))
	if err != nil {
		return "", "", fmt.Errorf("%w: decode for resize: %v", ErrInvalidImage, err)
	}

	w, h := fitWithin(out.Width, out.Height, limit)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: upstreamJPEGQuality}); err != nil {
		return "", "", fmt.Errorf("encode resized frame: %w", err)
	}

	p.logger.DebugTag("图像", "上游缩放 %dx%d -> %dx%d (%d -> %d bytes)",
		out.Width, out.Height, w, h, len(out.Bytes), buf.Len())
	return "image/jpeg", base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func fitWithin(width, height, limit int) (int, int) {
	if width >= height {
		h := height * limit / width
		return limit, max(h, 1)
	}
	w := width * limit / height
	return max(w, 1), limit
}
