package constants

import "strings"

// IngestKind classifies a document by whether it carries a usable text layer.
type IngestKind string

const (
	IngestDigital IngestKind = "digital"
	IngestScanned IngestKind = "scanned"
)

// ParseIngestKind reports whether s is a known ingest kind.
func ParseIngestKind(s string) (IngestKind, bool) {
	switch IngestKind(s) {
	case IngestDigital, IngestScanned:
		return IngestKind(s), true
	}
	return "", false
}

const (
	MimePDF  = "application/pdf"
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeWebP = "image/webp"
)

// Extraction provider names reported back to callers.
const (
	ProviderNativeText = "native-text"
	ProviderTesseract  = "tesseract"
	ProviderMistral    = "mistral"
	ProviderVision     = "vision"
)

// Fixed provider confidences. They are properties of the provider, not of the text.
const (
	NativeTextConfidence = 0.95
	OCRConfidence        = 0.85
)

// MinTextLayerChars is the stripped length a PDF text layer must exceed to count as digital.
const MinTextLayerChars = 50

// AllowedExtensions holds the default allowed file extensions for batch ingestion.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"webp": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MimeFromExt maps a file extension to the mime type used by the pipeline.
func MimeFromExt(ext string) string {
	switch NormalizeExt(ext) {
	case "pdf":
		return MimePDF
	case "jpg", "jpeg":
		return MimeJPEG
	case "png":
		return MimePNG
	case "webp":
		return MimeWebP
	default:
		return "application/octet-stream"
	}
}

// IsImageMime reports whether the mime type is an image/* type.
func IsImageMime(mime string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mime)), "image/")
}

// NormalizeMime lowercases a mime type and drops any parameters.
func NormalizeMime(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}
