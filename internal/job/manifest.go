package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"
)

// ErrManifestExists is returned when a manifest would overwrite an earlier one.
var ErrManifestExists = errors.New("manifest already written")

// SegmentOutcome is the manifest entry for one segment.
type SegmentOutcome struct {
	Index         int           `json:"index"`
	Start         float64       `json:"start"`
	End           float64       `json:"end"`
	Status        SegmentStatus `json:"status"`
	OperationID   string        `json:"operation_id,omitempty"`
	ArtifactURL   string        `json:"artifact_url,omitempty"`
	LocalPath     string        `json:"local_path,omitempty"`
	Error         string        `json:"error,omitempty"`
	Resubmissions int           `json:"resubmissions"`
	Merged        bool          `json:"merged"`
}

// Manifest is the write-once record of a batch outcome.
type Manifest struct {
	BatchID   string            `json:"batch_id"`
	Context   map[string]string `json:"context,omitempty"`
	FinalPath string            `json:"final_path"`
	VideoURL  string            `json:"video_url,omitempty"`
	Segments  []SegmentOutcome  `json:"segments"`
	Merged    []int             `json:"merged"`
	Missing   []int             `json:"missing"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewManifest builds a manifest from segment snapshots. merged lists the
// indexes that were passed to concatenation; every other segment is missing.
func NewManifest(batchID string, meta map[string]string, segments []*Segment, finalPath string, merged []int) *Manifest {
	inMerge := make(map[int]bool, len(merged))
	for _, i := range merged {
		inMerge[i] = true
	}

	m := &Manifest{
		BatchID:   batchID,
		Context:   meta,
		FinalPath: finalPath,
		Segments:  make([]SegmentOutcome, 0, len(segments)),
		Merged:    append([]int(nil), merged...),
		Missing:   make([]int, 0),
		CreatedAt: time.Now().UTC(),
	}

	for _, s := range segments {
		c := s.Clone()
		m.Segments = append(m.Segments, SegmentOutcome{
			Index:         c.Index,
			Start:         c.Start,
			End:           c.End,
			Status:        c.Status,
			OperationID:   c.OperationID,
			ArtifactURL:   c.ArtifactURL,
			LocalPath:     c.LocalPath,
			Error:         c.Error,
			Resubmissions: c.Resubmissions,
			Merged:        inMerge[c.Index],
		})
		if !inMerge[c.Index] {
			m.Missing = append(m.Missing, c.Index)
		}
	}

	sort.SliceStable(m.Segments, func(i, j int) bool { return m.Segments[i].Index < m.Segments[j].Index })
	sort.Ints(m.Missing)
	return m
}

// Write stores the manifest as indented JSON at path. It refuses to
// overwrite an existing file.
func (m *Manifest) Write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) // #nosec G304 - path is built by the merge engine
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrManifestExists, path)
		}
		return fmt.Errorf("create manifest: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	return nil
}
