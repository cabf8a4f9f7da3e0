package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/andresmejia3/faceauth/internal/aggregate"
	"github.com/andresmejia3/faceauth/internal/logger"
	"github.com/andresmejia3/faceauth/internal/quality"
	"github.com/andresmejia3/faceauth/internal/sampler"
	"github.com/andresmejia3/faceauth/internal/types"
	"github.com/andresmejia3/faceauth/internal/utils"
	"go.uber.org/zap"
)

const (
	passPrimary  = "primary"
	passFallback = "fallback"
)

// Extraction is the accepted embeddings of one video plus counters.
type Extraction struct {
	Set          aggregate.EmbeddingSet
	Frames       int // frames decoded in the pass that produced Set
	Sampled      int
	Accepted     int
	Skipped      int // sampled frames that could not be prepared
	FallbackPass bool
}

// ExtractVideo runs the primary quality pass and, when it accepts
// nothing, the relaxed fallback pass. The video is buffered once since a
// decoded stream cannot be restarted.
func (p *Pipeline) ExtractVideo(ctx context.Context, r io.Reader) (Extraction, error) {
	video, err := io.ReadAll(r)
	if err != nil {
		return Extraction{}, &sampler.DecodeError{Err: fmt.Errorf("failed to read video: %w", err)}
	}
	if len(video) == 0 {
		return Extraction{}, &sampler.DecodeError{Err: errors.New("empty video")}
	}
	tag := utils.HashBytes(video)

	ex, err := p.runPass(ctx, video, passPrimary, p.opts.Primary)
	if err != nil {
		return Extraction{}, err
	}
	if ex.Accepted > 0 {
		return ex, nil
	}
	if !p.opts.FallbackEnabled {
		return Extraction{}, &aggregate.NoValidFaceError{Reason: "no frame passed the quality gate"}
	}

	logger.Warn("primary pass accepted no frames, running fallback pass",
		zap.String("video", tag),
		zap.Int("sampled", ex.Sampled),
		zap.Float64("min_confidence", p.opts.Fallback.MinConfidence),
		zap.Int("stride", p.opts.Fallback.Stride))

	ex, err = p.runPass(ctx, video, passFallback, p.opts.Fallback)
	if err != nil {
		return Extraction{}, err
	}
	ex.FallbackPass = true
	if ex.Accepted == 0 {
		return Extraction{}, &aggregate.NoValidFaceError{Reason: "no frame passed the fallback quality gate"}
	}
	return ex, nil
}

func (p *Pipeline) runPass(ctx context.Context, video []byte, pass string, policy quality.Policy) (Extraction, error) {
	stream, err := sampler.New(p.decoder, policy.Stride).Open(ctx, bytes.NewReader(video))
	if err != nil {
		return Extraction{}, err
	}
	defer stream.Close()

	var ex Extraction
	var accepted []types.RawDetection
	for frame, err := range stream.All() {
		if err != nil {
			return Extraction{}, err
		}
		ex.Sampled++

		img, err := p.prepare(frame.Data)
		if err != nil {
			ex.Skipped++
			logger.Debug("skipping undecodable frame", zap.Int("frame", frame.Index), zap.Error(err))
			continue
		}
		dets, err := p.detector.Detect(ctx, img)
		if err != nil {
			return Extraction{}, fmt.Errorf("face detection failed on frame %d: %w", frame.Index, err)
		}
		if det, ok := policy.Pick(dets); ok {
			accepted = append(accepted, det)
		}

		if p.progress != nil {
			p.progress(Progress{Pass: pass, Frame: frame.Index, Sampled: ex.Sampled, Accepted: len(accepted)})
		}
		if p.opts.MaxFrames > 0 && ex.Sampled >= p.opts.MaxFrames {
			break
		}
	}

	ex.Frames = stream.Decoded()
	ex.Accepted = len(accepted)
	ex.Set = aggregate.FromDetections(accepted)

	logger.Debug("pass complete",
		zap.String("pass", pass),
		zap.Int("frames", ex.Frames),
		zap.Int("sampled", ex.Sampled),
		zap.Int("accepted", ex.Accepted),
		zap.Int("skipped", ex.Skipped))
	return ex, nil
}
