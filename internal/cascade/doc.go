// Package cascade runs sliding-window cascade detectors over grayscale
// images and returns candidate rectangles.
//
// Two backends exist. The pigo backend is pure Go and always available. It
// reads a pico-format face cascade (facefinder) and finds eyes with pigo's
// pupil localizer (puploc), seeded from the face region. The gocv backend wraps OpenCV's
// CascadeClassifier and reads Haar XML cascades; it needs cgo and OpenCV and
// is compiled only with the build tag `cascade_gocv`.
//
// Example:
//
//	go build -tags=cascade_gocv ./...
package cascade
