package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/progresswatch/internal/models"
)

// ReportFunc publishes intra-item progress for the item being processed
type ReportFunc func(status models.ProgressStatus, progress int, message string)

// ItemProcessor does the actual work for one item of a batch
type ItemProcessor interface {
	Process(ctx context.Context, label string, report ReportFunc) error
}

// Stage is one step of the StagedProcessor. Message is a format string
// taking the item label.
type Stage struct {
	Status   models.ProgressStatus
	Progress int
	Message  string
	// Applies limits the stage to matching labels. Nil applies to all.
	Applies func(label string) bool
}

// StagedProcessor walks a fixed list of stages with a delay between them.
// It stands in for real download/convert/index work.
type StagedProcessor struct {
	Stages    []Stage
	StepDelay time.Duration
}

var mediaExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".ogg": true, ".flac": true,
	".mp4": true, ".mov": true, ".mkv": true, ".webm": true,
}

// IsMedia reports whether a label names an audio/video file
func IsMedia(label string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(label))]
}

// NewStagedProcessor returns the download/convert/transcribe/index pipeline
func NewStagedProcessor(stepDelay time.Duration) *StagedProcessor {
	return &StagedProcessor{
		StepDelay: stepDelay,
		Stages: []Stage{
			{Status: models.ProgressStatusProcessing, Progress: 10, Message: "Downloading %s"},
			{Status: models.ProgressStatusProcessing, Progress: 40, Message: "Converting %s"},
			{Status: models.ProgressStatusTranscribing, Progress: 70, Message: "Transcribing %s", Applies: IsMedia},
			{Status: models.ProgressStatusProcessing, Progress: 90, Message: "Processing %s"},
		},
	}
}

func (p *StagedProcessor) Process(ctx context.Context, label string, report ReportFunc) error {
	for _, stage := range p.Stages {
		if stage.Applies != nil && !stage.Applies(label) {
			continue
		}
		report(stage.Status, stage.Progress, fmt.Sprintf(stage.Message, label))

		if p.StepDelay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.StepDelay):
		}
	}
	return nil
}
