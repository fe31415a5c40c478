package utils

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrDecode is matched by every DecodeError via errors.Is.
var ErrDecode = errors.New("image could not be decoded")

// DecodeError reports an input that could not be turned into an image.
type DecodeError struct {
	Source string // "path", "base64" or "bytes"
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s input: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecode) true for any DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// SupportedImageExtensions lists file extensions picked up when scanning directories.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp"}

// IsSupportedImage reports whether the path has a supported image extension.
func IsSupportedImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedImageExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// ImageMetadata captures lightweight file and pixel information.
type ImageMetadata struct {
	Path      string
	Format    string
	SizeBytes int64
	Width     int
	Height    int
}

// LoadImage opens and decodes an image file. The format is sniffed from the
// content, so the extension does not need to match.
func LoadImage(path string) (image.Image, ImageMetadata, error) {
	if path == "" {
		return nil, ImageMetadata{}, &DecodeError{Source: "path", Err: errors.New("empty path")}
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: reading a caller-supplied image path is the point
	if err != nil {
		return nil, ImageMetadata{}, &DecodeError{Source: "path", Err: err}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, ImageMetadata{}, &DecodeError{Source: "path", Err: fmt.Errorf("%s: %w", path, err)}
	}

	b := img.Bounds()
	meta := ImageMetadata{
		Path:      path,
		Format:    format,
		SizeBytes: int64(len(data)),
		Width:     b.Dx(),
		Height:    b.Dy(),
	}
	return img, meta, nil
}

// DecodeBytes decodes an encoded image held in memory.
func DecodeBytes(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", &DecodeError{Source: "bytes", Err: errors.New("empty payload")}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", &DecodeError{Source: "bytes", Err: err}
	}
	return img, format, nil
}

// StripDataURI drops everything up to and including the first comma, so
// "data:image/jpeg;base64,AAAA" becomes "AAAA". Strings without a comma are
// returned unchanged.
func StripDataURI(s string) string {
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}

// DecodeBase64Payload returns the raw bytes of a base64 payload with an
// optional data-URI prefix. Padded and unpadded encodings are accepted.
func DecodeBase64Payload(s string) ([]byte, error) {
	payload := strings.TrimSpace(StripDataURI(s))
	if payload == "" {
		return nil, &DecodeError{Source: "base64", Err: errors.New("empty payload")}
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if rawErr != nil {
			return nil, &DecodeError{Source: "base64", Err: err}
		}
		data = raw
	}
	return data, nil
}

// DecodeBase64 decodes a base64 image payload into an image.
func DecodeBase64(s string) (image.Image, error) {
	data, err := DecodeBase64Payload(s)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Source: "base64", Err: err}
	}
	return img, nil
}
