package image

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"camrate-server-go/internal/platform/config"
	"camrate-server-go/internal/platform/logging"
)

// SecurityValidator performs layered security checks against incoming frames.
type SecurityValidator struct {
	config *config.SecurityConfig
	logger *logging.Logger
}

func NewSecurityValidator(cfg *config.SecurityConfig, logger *logging.Logger) *SecurityValidator {
	return &SecurityValidator{config: cfg, logger: logger}
}

var imageSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8},
	"jpg":  {0xFF, 0xD8},
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"gif":  {0x47, 0x49, 0x46, 0x38},
	"webp": {0x52, 0x49, 0x46, 0x46},
}

// ValidateBytes runs size, format, decode and content checks on raw bytes.
func (v *SecurityValidator) ValidateBytes(raw []byte, declaredFormat string) ValidationResult {
	result := ValidationResult{}

	if len(raw) == 0 {
		result.Error = fmt.Errorf("empty image payload")
		return result
	}

	if v.config.MaxFileSize > 0 && int64(len(raw)) > v.config.MaxFileSize {
		result.Error = fmt.Errorf("file size exceeds limit: %d bytes (max %d bytes)", len(raw), v.config.MaxFileSize)
		result.SecurityRisk = "file too large"
		v.logger.WarnTag("图像", "检测到超大图像: size=%d max_size=%d", len(raw), v.config.MaxFileSize)
		return result
	}

	if declaredFormat != "" && !v.isFormatAllowed(declaredFormat) {
		result.Error = fmt.Errorf("unsupported format: %s", declaredFormat)
		result.SecurityRisk = "unapproved format"
		return result
	}

	if v.config.EnableDeepScan && v.scanForMaliciousContent(raw) {
		result.Error = fmt.Errorf("potential malicious content detected")
		result.SecurityRisk = "suspicious content"
		return result
	}

	result = v.validateImageDecoding(raw)
	if !result.IsValid {
		if declaredFormat != "" && !v.validateFileSignature(raw, declaredFormat) {
			v.logger.WarnTag("图像", "文件签名不匹配: declared=%s header=%x", declaredFormat, raw[:min(len(raw), 16)])
		}
		return result
	}

	if !v.isFormatAllowed(result.Format) {
		result.IsValid = false
		result.Error = fmt.Errorf("unsupported format: %s", result.Format)
		result.SecurityRisk = "unapproved format"
	}
	return result
}

func (v *SecurityValidator) isFormatAllowed(format string) bool {
	if format == "" || len(v.config.AllowedFormats) == 0 {
		return true
	}

	format = strings.ToLower(format)
	if format == "jpg" {
		format = "jpeg"
	}
	for _, allowed := range v.config.AllowedFormats {
		allowed = strings.ToLower(allowed)
		if allowed == "jpg" {
			allowed = "jpeg"
		}
		if allowed == format {
			return true
		}
	}
	return false
}

func (v *SecurityValidator) validateFileSignature(raw []byte, format string) bool {
	signature, ok := imageSignatures[strings.ToLower(format)]
	if !ok {
		return true
	}
	if len(raw) < len(signature) {
		return false
	}
	return bytes.Equal(signature, raw[:len(signature)])
}

func (v *SecurityValidator) scanForMaliciousContent(raw []byte) bool {
	suspicious := [][]byte{
		{0x4D, 0x5A},             // PE
		{0x25, 0x50, 0x44, 0x46}, // PDF
		{0x50, 0x4B, 0x03, 0x04}, // zip
		{0x1F, 0x8B, 0x08},       // gzip
	}
	for _, signature := range suspicious {
		if bytes.HasPrefix(raw, signature) {
			v.logger.WarnTag("图像", "检测到可疑文件签名: %x", signature)
			return true
		}
	}

	head := raw[:min(len(raw), 1024)]
	if bytes.Contains(bytes.ToLower(head), []byte("<svg")) || bytes.Contains(bytes.ToLower(head), []byte("<script")) {
		v.logger.WarnTag("图像", "检测到标记内容，拒绝")
		return true
	}
	return false
}

func (v *SecurityValidator) validateImageDecoding(raw []byte) ValidationResult {
	result := ValidationResult{}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		result.Error = fmt.Errorf("decode image config: %w", err)
		result.SecurityRisk = "corrupted image data"
		return result
	}
	result.Format = format

	if (v.config.MaxWidth > 0 && cfg.Width > v.config.MaxWidth) || (v.config.MaxHeight > 0 && cfg.Height > v.config.MaxHeight) {
		result.Error = fmt.Errorf("dimensions exceed limit: %dx%d (max %dx%d)",
			cfg.Width, cfg.Height, v.config.MaxWidth, v.config.MaxHeight)
		result.SecurityRisk = "dimensions too large"
		return result
	}

	totalPixels := int64(cfg.Width) * int64(cfg.Height)
	if v.config.MaxPixels > 0 && totalPixels > v.config.MaxPixels {
		result.Error = fmt.Errorf("pixel count exceeds limit: %d (max %d)", totalPixels, v.config.MaxPixels)
		result.SecurityRisk = "pixel count too high"
		return result
	}

	result.IsValid = true
	result.Width = cfg.Width
	result.Height = cfg.Height
	result.FileSize = int64(len(raw))

	v.logger.DebugTag("图像", "校验通过: format=%s width=%d height=%d size=%d",
		result.Format, result.Width, result.Height, result.FileSize)
	return result
}
