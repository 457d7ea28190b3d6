package merge

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/segment-stitcher/internal/job"
)

type mockConcatenator struct {
	mock.Mock
}

func (m *mockConcatenator) JoinVideos(ctx context.Context, videoPaths []string, output string) error {
	args := m.Called(ctx, videoPaths, output)
	if args.Error(0) == nil {
		_ = os.WriteFile(output, []byte("merged"), 0o600)
	}
	return args.Error(0)
}

type stubPublisher struct {
	url string
	err error
}

func (s *stubPublisher) Publish(context.Context, string, string) (string, error) {
	return s.url, s.err
}

// completed builds a COMPLETED segment whose artifact exists in dir.
func completed(t *testing.T, dir string, index int) *job.Segment {
	t.Helper()
	seg := job.NewSegment(index, float64(index)*8, float64(index+1)*8, "prompt")
	require.NoError(t, seg.BeginSubmit())
	require.NoError(t, seg.MarkSubmitted("op", time.Now()))
	require.NoError(t, seg.Complete("https://cdn/x.mp4"))
	path := filepath.Join(dir, filepath.Base(dir)+"_"+string(rune('a'+index))+".mp4")
	require.NoError(t, os.WriteFile(path, []byte("seg"), 0o600))
	seg.SetLocalPath(path)
	return seg
}

func timedOut(t *testing.T, index int) *job.Segment {
	t.Helper()
	seg := job.NewSegment(index, 0, 8, "prompt")
	require.NoError(t, seg.BeginSubmit())
	require.NoError(t, seg.MarkSubmitted("op", time.Now()))
	require.NoError(t, seg.TimeOut("still pending"))
	return seg
}

func failed(t *testing.T, index int) *job.Segment {
	t.Helper()
	seg := job.NewSegment(index, 0, 8, "prompt")
	require.NoError(t, seg.Fail("submit: fatal"))
	return seg
}

func localPaths(segs ...*job.Segment) []string {
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		out = append(out, s.Clone().LocalPath)
	}
	return out
}

func TestMerge_OrdersByIndexRegardlessOfArrival(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	s0, s1, s2 := completed(t, dir, 0), completed(t, dir, 1), completed(t, dir, 2)

	concat := &mockConcatenator{}
	concat.On("JoinVideos", mock.Anything, localPaths(s0, s1, s2), filepath.Join(outDir, "batch-1.mp4")).Return(nil)
	engine := NewEngine(concat, outDir)

	// Arrival order 2, 0, 1.
	out, err := engine.Merge(context.Background(), Input{BatchID: "batch-1", Segments: []*job.Segment{s2, s0, s1}})

	require.NoError(t, err)
	concat.AssertExpectations(t)
	assert.Equal(t, []int{0, 1, 2}, out.Merged)
	assert.Empty(t, out.Missing)
}

func TestMerge_PartialSuccess(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	s0, s1, s3 := completed(t, dir, 0), completed(t, dir, 1), completed(t, dir, 3)
	s2 := timedOut(t, 2)

	concat := &mockConcatenator{}
	concat.On("JoinVideos", mock.Anything, localPaths(s0, s1, s3), mock.Anything).Return(nil)
	engine := NewEngine(concat, outDir)

	out, err := engine.Merge(context.Background(), Input{
		BatchID:  "batch-2",
		Context:  map[string]string{"theme": "ocean"},
		Segments: []*job.Segment{s0, s1, s2, s3},
	})

	require.NoError(t, err)
	concat.AssertExpectations(t)
	assert.Equal(t, []int{0, 1, 3}, out.Merged)
	assert.Equal(t, []int{2}, out.Missing)

	data, err := os.ReadFile(out.ManifestPath)
	require.NoError(t, err)
	var m job.Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "batch-2", m.BatchID)
	assert.Equal(t, "ocean", m.Context["theme"])
	assert.Equal(t, out.FinalPath, m.FinalPath)
	assert.Equal(t, []int{2}, m.Missing)
	require.Len(t, m.Segments, 4)
	assert.Equal(t, job.SegmentTimedOut, m.Segments[2].Status)
	assert.False(t, m.Segments[2].Merged)
	assert.True(t, m.Segments[3].Merged)
}

func TestMerge_NoInputs(t *testing.T) {
	tests := []struct {
		name     string
		segments func(t *testing.T) []*job.Segment
	}{
		{"empty", func(*testing.T) []*job.Segment { return nil }},
		{"all failed", func(t *testing.T) []*job.Segment {
			return []*job.Segment{failed(t, 0), timedOut(t, 1), failed(t, 2)}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outDir := filepath.Join(t.TempDir(), "out")
			concat := &mockConcatenator{}
			engine := NewEngine(concat, outDir)

			_, err := engine.Merge(context.Background(), Input{BatchID: "batch-3", Segments: tt.segments(t)})

			var mErr *Error
			require.True(t, errors.As(err, &mErr))
			assert.Equal(t, KindNoInputs, mErr.Kind)
			assert.ErrorIs(t, err, ErrNoInputs)
			concat.AssertNotCalled(t, "JoinVideos", mock.Anything, mock.Anything, mock.Anything)

			_, statErr := os.Stat(outDir)
			assert.True(t, os.IsNotExist(statErr), "no filesystem writes")
		})
	}
}

func TestMerge_CompletedWithoutLocalPathIsNotAnInput(t *testing.T) {
	seg := job.NewSegment(0, 0, 8, "prompt")
	require.NoError(t, seg.BeginSubmit())
	require.NoError(t, seg.MarkSubmitted("op", time.Now()))
	require.NoError(t, seg.Complete("https://cdn/x.mp4"))

	engine := NewEngine(&mockConcatenator{}, t.TempDir())
	_, err := engine.Merge(context.Background(), Input{BatchID: "b", Segments: []*job.Segment{seg}})

	assert.ErrorIs(t, err, ErrNoInputs)
}

func TestMerge_InvalidInputs(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	s0 := completed(t, dir, 0)
	require.NoError(t, os.Remove(s0.Clone().LocalPath))

	concat := &mockConcatenator{}
	engine := NewEngine(concat, outDir)

	_, err := engine.Merge(context.Background(), Input{BatchID: "batch-4", Segments: []*job.Segment{s0}})

	var mErr *Error
	require.True(t, errors.As(err, &mErr))
	assert.Equal(t, KindInvalidInputs, mErr.Kind)
	assert.Equal(t, []int{0}, mErr.Dropped)
	assert.ErrorIs(t, err, ErrInvalidInputs)
	concat.AssertNotCalled(t, "JoinVideos", mock.Anything, mock.Anything, mock.Anything)
}

func TestMerge_DropsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	s0, s1, s2 := completed(t, dir, 0), completed(t, dir, 1), completed(t, dir, 2)
	require.NoError(t, os.Remove(s1.Clone().LocalPath))

	concat := &mockConcatenator{}
	concat.On("JoinVideos", mock.Anything, localPaths(s0, s2), mock.Anything).Return(nil)
	engine := NewEngine(concat, filepath.Join(dir, "out"))

	out, err := engine.Merge(context.Background(), Input{BatchID: "batch-5", Segments: []*job.Segment{s0, s1, s2}})

	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, out.Merged)
	assert.Equal(t, []int{1}, out.Missing)
}

func TestMerge_ConcatenateFailure(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	s0 := completed(t, dir, 0)

	concat := &mockConcatenator{}
	concat.On("JoinVideos", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("codec mismatch"))
	engine := NewEngine(concat, outDir)

	_, err := engine.Merge(context.Background(), Input{BatchID: "batch-6", Segments: []*job.Segment{s0}})

	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(outDir, "batch-6.manifest.json"))
	assert.True(t, os.IsNotExist(statErr), "manifest only after a successful merge")
}

func TestMerge_Publisher(t *testing.T) {
	tests := []struct {
		name    string
		pub     *stubPublisher
		wantURL string
	}{
		{"published", &stubPublisher{url: "https://bucket/batches/b/final.mp4"}, "https://bucket/batches/b/final.mp4"},
		{"publish failure is not fatal", &stubPublisher{err: errors.New("denied")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			concat := &mockConcatenator{}
			concat.On("JoinVideos", mock.Anything, mock.Anything, mock.Anything).Return(nil)
			engine := NewEngine(concat, filepath.Join(dir, "out"))

			out, err := engine.Merge(context.Background(), Input{
				BatchID:   "b",
				Segments:  []*job.Segment{completed(t, dir, 0)},
				Publisher: tt.pub,
			})

			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, out.VideoURL)
			assert.Equal(t, tt.wantURL, out.Manifest.VideoURL)
		})
	}
}

func TestMerge_ManifestIsWriteOnce(t *testing.T) {
	dir := t.TempDir()
	concat := &mockConcatenator{}
	concat.On("JoinVideos", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	engine := NewEngine(concat, filepath.Join(dir, "out"))
	in := Input{BatchID: "b", Segments: []*job.Segment{completed(t, dir, 0)}}

	_, err := engine.Merge(context.Background(), in)
	require.NoError(t, err)

	_, err = engine.Merge(context.Background(), in)
	assert.ErrorIs(t, err, job.ErrManifestExists)
}

func TestCandidates_StableForDuplicates(t *testing.T) {
	dir := t.TempDir()
	a := completed(t, dir, 1)
	b := completed(t, dir, 0)
	c := job.NewSegment(1, 0, 8, "dup")
	require.NoError(t, c.BeginSubmit())
	require.NoError(t, c.MarkSubmitted("op", time.Now()))
	require.NoError(t, c.Complete("u"))
	c.SetLocalPath("/dup.mp4")

	got := Candidates([]*job.Segment{a, b, c})

	require.Len(t, got, 3)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, "prompt", got[1].Prompt)
	assert.Equal(t, "dup", got[2].Prompt)
}
