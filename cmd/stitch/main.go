// Package main provides a one-shot command that generates every segment of a
// request, merges the results in order and prints the outcome as JSON.
//
// Usage:
//
//	stitch -input request.json [-push-s3]
//
// The input is either a full request object or a JSON array of prompts.
// Use "-" to read it from stdin. The exit status is non-zero when the input
// is rejected or the batch produced no artifact; a partial batch exits zero.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maauso/segment-stitcher/internal/bootstrap"
	"github.com/maauso/segment-stitcher/internal/config"
	"github.com/maauso/segment-stitcher/internal/job"
	"github.com/maauso/segment-stitcher/internal/pipeline"
)

// outcome is the document printed on stdout.
type outcome struct {
	BatchID  string        `json:"batch_id"`
	Status   job.Status    `json:"status"`
	Error    string        `json:"error,omitempty"`
	Manifest *job.Manifest `json:"manifest,omitempty"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	input := flag.String("input", "", `request file, or "-" for stdin`)
	pushS3 := flag.Bool("push-s3", false, "publish the final artifact and manifest to S3")
	flag.Parse()

	if *input == "" {
		flag.Usage()
		return errors.New("-input is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// stdout carries the outcome document.
	logger := cfg.NewStderrLogger()
	slog.SetDefault(logger)

	data, err := readInput(*input)
	if err != nil {
		return err
	}
	req, err := pipeline.ParseRequest(data, cfg.SegmentLength)
	if err != nil {
		return err
	}
	if *pushS3 {
		req.PushToS3 = true
	}

	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer deps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := deps.Service.Run(ctx, req)
	if result != nil {
		if err := printOutcome(os.Stdout, result); err != nil {
			return err
		}
	}
	return runErr
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(name) // #nosec G304 - path is given by the operator
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

func printOutcome(w io.Writer, result *pipeline.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(outcome{
		BatchID:  result.Batch.ID,
		Status:   result.Batch.Status,
		Error:    result.Batch.Error,
		Manifest: result.Manifest,
	})
}
