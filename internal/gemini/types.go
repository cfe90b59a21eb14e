package gemini

import (
	"errors"
	"fmt"
)

// Part is one piece of a request: either text or inline image bytes (base64).
type Part struct {
	Text  string
	Image *InlineImage
}

type InlineImage struct {
	MimeType   string
	DataBase64 string
}

// DataURL renders the image as a data: reference.
func (img InlineImage) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.DataBase64)
}

type Request struct {
	Model              string
	Parts              []Part
	ResponseModalities []string
	ResponseMIMEType   string
	AspectRatio        string
	Temperature        float64
}

type Response struct {
	Text   string
	Images []InlineImage
}

// ErrEmptyResponse is returned when the API answers without any candidate parts.
var ErrEmptyResponse = errors.New("gemini: empty candidate part list")

type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini API %s: %s", e.Status, e.Body)
}

// ShapeError reports a text response that could not be decoded as the expected JSON.
type ShapeError struct {
	Raw string
	Err error
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("gemini: malformed JSON response: %v", e.Err)
}

func (e *ShapeError) Unwrap() error { return e.Err }
