package server

import (
	"encoding/json"
	"errors"
	"image"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/MeKo-Tech/facecls/internal/service"
	"github.com/MeKo-Tech/facecls/internal/utils"
)

// Form and JSON field names accepted by /classify_image.
const (
	fieldImageData = "image_data"
	fieldImageFile = "image"
)

var errNoImage = &requestError{Status: http.StatusBadRequest, Message: "No image provided"}

// classifyPayload is either an already decoded upload or a base64 input.
type classifyPayload struct {
	image image.Image
	input service.Input
}

func (p classifyPayload) run(svc Classifier) ([]service.Result, error) {
	if p.image != nil {
		return svc.ClassifyImage(p.image)
	}
	return svc.Classify(p.input)
}

// parseClassifyRequest reads the image from a JSON body, a multipart file
// named "image", or an "image_data" form field. Server-side paths are never
// accepted from callers.
func (s *Server) parseClassifyRequest(w http.ResponseWriter, r *http.Request) (classifyPayload, error) {
	limit := s.maxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		return parseJSONPayload(r.Body)
	case "multipart/form-data":
		if err := r.ParseMultipartForm(limit); err != nil {
			return classifyPayload{}, formError(err)
		}
		file, _, err := r.FormFile(fieldImageFile)
		switch {
		case err == nil:
			defer func() { _ = file.Close() }()
			return readUpload(file)
		case !errors.Is(err, http.ErrMissingFile):
			return classifyPayload{}, &requestError{Status: http.StatusBadRequest, Message: "Failed to read image file", Err: err}
		}
	default:
		if err := r.ParseForm(); err != nil {
			return classifyPayload{}, formError(err)
		}
	}

	return base64Payload(r.FormValue(fieldImageData))
}

func parseJSONPayload(body io.Reader) (classifyPayload, error) {
	var req ClassifyRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return classifyPayload{}, err
		}
		return classifyPayload{}, &requestError{Status: http.StatusBadRequest, Message: "Invalid JSON body", Err: err}
	}
	return base64Payload(req.ImageData)
}

func base64Payload(data string) (classifyPayload, error) {
	if strings.TrimSpace(data) == "" {
		return classifyPayload{}, errNoImage
	}
	uploadSizeBytes.Observe(float64(len(data)))
	return classifyPayload{input: service.Input{Base64: data}}, nil
}

func readUpload(file io.Reader) (classifyPayload, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return classifyPayload{}, &requestError{Status: http.StatusBadRequest, Message: "Failed to read image file", Err: err}
	}
	uploadSizeBytes.Observe(float64(len(data)))

	img, _, err := utils.DecodeBytes(data)
	if err != nil {
		return classifyPayload{}, err
	}
	return classifyPayload{image: img}, nil
}

// formError distinguishes an oversized body from a malformed form.
func formError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || strings.Contains(strings.ToLower(err.Error()), "request body too large") {
		return &http.MaxBytesError{}
	}
	return &requestError{Status: http.StatusBadRequest, Message: "Failed to parse form data", Err: err}
}
