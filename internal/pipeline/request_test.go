package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest_FullObject(t *testing.T) {
	data := []byte(`{
		"context": {"theme": "ocean"},
		"segments": [
			{"index": 1, "start": 8, "end": 16, "prompt": "waves"},
			{"index": 0, "start": 0, "end": 8, "prompt": "sunrise"}
		],
		"push_to_s3": true
	}`)

	req, err := ParseRequest(data, 8)

	require.NoError(t, err)
	assert.Equal(t, "ocean", req.Context["theme"])
	assert.True(t, req.PushToS3)
	require.Len(t, req.Segments, 2)
	assert.Equal(t, SegmentSpec{Index: 1, Start: 8, End: 16, Prompt: "waves"}, req.Segments[0])
}

func TestParseRequest_PromptList(t *testing.T) {
	req, err := ParseRequest([]byte(`["a", "b", "c"]`), 5)

	require.NoError(t, err)
	assert.Equal(t, []SegmentSpec{
		{Index: 0, Start: 0, End: 5, Prompt: "a"},
		{Index: 1, Start: 5, End: 10, Prompt: "b"},
		{Index: 2, Start: 10, End: 15, Prompt: "c"},
	}, req.Segments)
}

func TestParseRequest_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown field", `{"segments": [], "extra": 1}`},
		{"not json", `segments`},
		{"mixed array", `["a", 1]`},
		{"trailing data", `{"segments": []} {}`},
		{"scalar", `42`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest([]byte(tt.data), 8)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestFromPrompts_DefaultLength(t *testing.T) {
	req := FromPrompts([]string{"a", "b"}, 0)

	assert.Equal(t, DefaultSegmentLength, req.Segments[1].Start)
	assert.Equal(t, 2*DefaultSegmentLength, req.Segments[1].End)
}
