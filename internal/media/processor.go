// Package media concatenates segment artifacts with ffmpeg.
package media

import "context"

// Concatenator joins byte-compatible video files in the given order.
type Concatenator interface {
	// JoinVideos concatenates videoPaths into output using a stream copy.
	// Inputs must share container and codec parameters; nothing is re-encoded.
	JoinVideos(ctx context.Context, videoPaths []string, output string) error
}
