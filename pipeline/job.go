package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"crowd-density/annotate"
	"crowd-density/assemble"
	"crowd-density/common"
	"crowd-density/common/config"
	"crowd-density/density"
	"crowd-density/media"
	"crowd-density/store"
	"crowd-density/telemetry"
)

// runJob drives one upload job from PENDING to a terminal state. All
// per-frame work happens here, on the worker goroutine that owns the job.
func (m *Manager) runJob(jobID string) {
	defer m.finish(jobID)

	job, err := m.store.GetJob(jobID)
	if err != nil {
		m.logger.Error("dequeued job not found", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	job.Status = common.JobProcessing
	if err := m.store.SaveJob(&job); err != nil {
		m.logger.Error("marking job processing", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	m.logger.Info("job started",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.MediaKind)),
		zap.String("path", job.OriginalPath))

	lastDetectionID, err := m.process(&job)
	if err != nil {
		m.jobFailed(&job, err)
		return
	}

	job.Status = common.JobCompleted
	if err := m.store.SaveJob(&job); err != nil {
		m.logger.Error("persisting completed job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	telemetry.JobsCompleted.Inc()

	m.evaluateAlerts(&job, lastDetectionID)

	m.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.Int("processed_frames", job.ProcessedFrames),
		zap.Int("skipped_frames", job.SkippedFrames),
		zap.Float64("avg_person_count", job.AvgPersonCount))
}

// process runs the frame loop and fills the job's result summary. It
// returns the ID of the last persisted detection record, which anchors
// alerts opened off this job. Errors carry their taxonomy code.
func (m *Manager) process(job *store.UploadJob) (*uint, error) {
	ctx := m.jobContext(job.ID)

	policy := media.SamplePolicy{
		Interval:  m.settings.FrameSampleInterval,
		MaxFrames: m.settings.MaxSampledFrames,
	}
	src, err := media.Open(ctx, job.OriginalPath, job.MediaKind, policy)
	if err != nil {
		if ctx.Err() != nil {
			return nil, common.NewCancelled()
		}
		return nil, err
	}
	defer src.Close()

	var zone *store.Zone
	if job.ZoneID != nil {
		z, err := m.store.GetZone(*job.ZoneID)
		if err != nil {
			return nil, fmt.Errorf("resolving zone %d: %w", *job.ZoneID, err)
		}
		zone = &z
	}

	var (
		assembler       *assemble.Assembler
		artifactPath    string
		samples         []density.Sample
		lastDetectionID *uint
		skipped         int
	)
	// Abort on any non-nil error path so no partial artifact survives.
	defer func() {
		if assembler != nil {
			assembler.Abort()
		}
	}()

	for {
		frame, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, common.NewCancelled()
			}
			return nil, err
		}

		boxes, detErr := m.detectFrame(ctx, frame.Image)
		if detErr != nil {
			if ctx.Err() != nil {
				return nil, common.NewCancelled()
			}
			skipped++
			telemetry.FramesSkipped.Inc()
			m.logger.Warn("detector call failed, frame skipped",
				zap.String("job_id", job.ID),
				zap.Int("frame", frame.Index),
				zap.Error(detErr))
			// The artifact keeps the original frame so playback stays
			// continuous.
			if job.MediaKind == common.MediaKindVideo {
				if assembler == nil {
					assembler, artifactPath, err = m.startAssembler(ctx, job, src, frame.Image)
					if err != nil {
						return nil, err
					}
				}
				if err := assembler.WriteFrame(frame.Image); err != nil {
					return nil, err
				}
			}
			continue
		}

		record := &store.DetectionRecord{
			UploadID:    job.ID,
			CameraID:    job.CameraID,
			ZoneID:      job.ZoneID,
			Timestamp:   time.Now(),
			PersonCount: len(boxes),
		}
		if zone != nil {
			pct := density.Percentage(len(boxes), zone.MaxCapacity)
			record.DensityPct = &pct
		}
		if job.MediaKind == common.MediaKindVideo {
			idx := frame.Index
			record.FrameIndex = &idx
		}
		if err := record.SetBoxes(boxes); err != nil {
			return nil, err
		}
		if err := m.store.SaveDetection(record); err != nil {
			return nil, err
		}
		lastDetectionID = &record.ID
		telemetry.FramesProcessed.Inc()

		samples = append(samples, density.Sample{
			PersonCount: record.PersonCount,
			Density:     record.DensityPct,
		})

		annotated := annotate.Draw(frame.Image, boxes)
		switch job.MediaKind {
		case common.MediaKindImage:
			artifactPath, err = m.writeImageArtifact(job.ID, annotated)
			if err != nil {
				return nil, err
			}
		case common.MediaKindVideo:
			if assembler == nil {
				assembler, artifactPath, err = m.startAssembler(ctx, job, src, annotated)
				if err != nil {
					return nil, err
				}
			}
			if err := assembler.WriteFrame(annotated); err != nil {
				return nil, err
			}
		}
	}

	processed := len(samples)
	if total := processed + skipped; total > 0 {
		if frac := float64(skipped) / float64(total); frac > m.settings.MaxSkipFraction {
			return nil, common.NewDetectionUnavailable(
				fmt.Sprintf("detector skipped %d of %d frames", skipped, total), nil)
		}
	}
	if processed == 0 {
		return nil, common.NewCorruptMedia("no frames decoded", nil)
	}

	webPlayable := true
	if assembler != nil {
		if err := assembler.Finish(); err != nil {
			return nil, err
		}
		assembler = nil // artifact is final, the deferred Abort must not touch it
		webPlayable = assemble.Transcode(ctx, artifactPath)
	}

	summary := density.Summarize(samples)
	job.ProcessedPath = artifactPath
	job.WebPlayable = webPlayable
	job.TotalFrames = src.TotalFrames()
	job.ProcessedFrames = summary.Frames
	job.SkippedFrames = skipped
	job.AvgPersonCount = summary.AvgPersonCount
	job.AvgDensity = summary.AvgDensity
	job.PeakDensity = summary.PeakDensity
	return lastDetectionID, nil
}

// detectFrame wraps one detector call with its timeout and latency metric.
func (m *Manager) detectFrame(ctx context.Context, frame *image.RGBA) ([]common.BoundingBox, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.settings.DetectorTimeout)
	defer cancel()

	start := time.Now()
	boxes, err := m.detector.Detect(callCtx, frame)
	telemetry.DetectorLatency.Observe(time.Since(start).Seconds())
	return boxes, err
}

// startAssembler lazily opens the encode pipe once the first frame fixes
// the output dimensions.
func (m *Manager) startAssembler(ctx context.Context, job *store.UploadJob,
	src media.Source, frame *image.RGBA) (*assemble.Assembler, string, error) {
	outPath := filepath.Join(m.settings.DataDir, config.ProcessedDir, job.ID+".mp4")
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, "", err
	}

	fps := m.outputFrameRate(src.FrameRate())
	bounds := frame.Bounds()
	assembler, err := assemble.New(ctx, outPath, bounds.Dx(), bounds.Dy(), fps)
	if err != nil {
		return nil, "", err
	}
	return assembler, outPath, nil
}

// outputFrameRate scales the source rate down by the sampling interval so
// the artifact plays at real-time speed.
func (m *Manager) outputFrameRate(sourceFPS float64) float64 {
	if m.settings.TargetFrameRate > 0 {
		return float64(m.settings.TargetFrameRate)
	}
	interval := m.settings.FrameSampleInterval
	if interval <= 0 {
		interval = 1
	}
	fps := sourceFPS / float64(interval)
	if fps <= 0 {
		fps = 1
	}
	return fps
}

func (m *Manager) writeImageArtifact(jobID string, img *image.RGBA) (string, error) {
	outPath := filepath.Join(m.settings.DataDir, config.ProcessedDir, jobID+".jpg")
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		return "", err
	}
	return outPath, nil
}
