package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultSegmentLength is the duration in seconds assumed for each prompt
// when a request is given as a bare list of prompts.
const DefaultSegmentLength = 8.0

// ErrInvalidRequest is returned when a request document matches neither
// accepted shape.
var ErrInvalidRequest = errors.New("pipeline: invalid request")

// SegmentSpec describes one segment of a request.
type SegmentSpec struct {
	Index  int     `json:"index" validate:"gte=0"`
	Start  float64 `json:"start" validate:"gte=0"`
	End    float64 `json:"end" validate:"gtefield=Start"`
	Prompt string  `json:"prompt" validate:"required"`
}

// Request is a batch to generate and merge.
type Request struct {
	// Context is free-form metadata copied into the manifest.
	Context map[string]string `json:"context,omitempty"`
	// Segments must have unique indexes.
	Segments []SegmentSpec `json:"segments" validate:"required,min=1,unique=Index,dive"`
	// PushToS3 publishes the final artifact and manifest when S3 is configured.
	PushToS3 bool `json:"push_to_s3,omitempty"`
}

// ParseRequest decodes a request document in two stages. The full object
// form is tried first with unknown fields rejected. If that fails, a bare
// JSON array of prompt strings is accepted and expanded by FromPrompts.
// Anything else is rejected with the error of the strict stage.
func ParseRequest(data []byte, segmentLength float64) (*Request, error) {
	req, strictErr := decodeStrict(data)
	if strictErr == nil {
		return req, nil
	}

	var prompts []string
	if err := json.Unmarshal(data, &prompts); err == nil {
		return FromPrompts(prompts, segmentLength), nil
	}

	return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, strictErr)
}

func decodeStrict(data []byte) (*Request, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var req Request
	if err := dec.Decode(&req); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after request object")
	}
	return &req, nil
}

// FromPrompts builds a request with one segment per prompt. Segment i spans
// [i*segmentLength, (i+1)*segmentLength).
func FromPrompts(prompts []string, segmentLength float64) *Request {
	if segmentLength <= 0 {
		segmentLength = DefaultSegmentLength
	}
	req := &Request{Segments: make([]SegmentSpec, 0, len(prompts))}
	for i, p := range prompts {
		req.Segments = append(req.Segments, SegmentSpec{
			Index:  i,
			Start:  float64(i) * segmentLength,
			End:    float64(i+1) * segmentLength,
			Prompt: p,
		})
	}
	return req
}
