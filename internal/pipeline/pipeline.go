// Package pipeline wires sampling, detection, quality gating,
// aggregation, encryption and storage into the register, verify and
// identify flows. A Pipeline is built once at startup and shared by all
// requests; each call is independent.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/andresmejia3/faceauth/internal/aggregate"
	"github.com/andresmejia3/faceauth/internal/codec"
	"github.com/andresmejia3/faceauth/internal/config"
	"github.com/andresmejia3/faceauth/internal/imaging"
	"github.com/andresmejia3/faceauth/internal/index"
	"github.com/andresmejia3/faceauth/internal/logger"
	"github.com/andresmejia3/faceauth/internal/quality"
	"github.com/andresmejia3/faceauth/internal/sampler"
	"github.com/andresmejia3/faceauth/internal/store"
	"github.com/andresmejia3/faceauth/internal/types"
	"github.com/andresmejia3/faceauth/internal/verify"
	"go.uber.org/zap"
)

// Detector finds faces in one JPEG and embeds each of them.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]types.RawDetection, error)
}

// Options are the tunables that do not come with their own component.
type Options struct {
	Primary              quality.Policy
	Fallback             quality.Policy
	FallbackEnabled      bool
	OutlierMinSimilarity float64
	MaxWidth             int
	MaxHeight            int
	MaxFrames            int // sampled frames per pass, 0 = unlimited
	IdentifyCandidates   int
}

// DefaultOptions mirrors the built-in configuration defaults.
func DefaultOptions() Options {
	return Options{
		Primary:              quality.DefaultPolicy(),
		Fallback:             quality.FallbackPolicy(),
		FallbackEnabled:      true,
		OutlierMinSimilarity: aggregate.DefaultOutlierMinSimilarity,
		MaxWidth:             640,
		MaxHeight:            480,
		IdentifyCandidates:   10,
	}
}

// Progress is reported after every sampled frame.
type Progress struct {
	Pass     string // "primary" or "fallback"
	Frame    int    // 1-based position in the video
	Sampled  int
	Accepted int
}

// ProgressFunc receives Progress updates. It runs on the request goroutine.
type ProgressFunc func(Progress)

type Option func(*Pipeline)

// WithDecoder overrides the video decoder (ffmpeg by default).
func WithDecoder(d sampler.Decoder) Option { return func(p *Pipeline) { p.decoder = d } }

// WithProgress installs a progress callback.
func WithProgress(fn ProgressFunc) Option { return func(p *Pipeline) { p.progress = fn } }

// WithIndex supplies a prebuilt identification index.
func WithIndex(ix *index.Index) Option { return func(p *Pipeline) { p.index = ix } }

type Pipeline struct {
	detector Detector
	decoder  sampler.Decoder
	selector aggregate.Selector
	codec    *codec.Codec
	store    store.Store
	decision verify.Decision
	opts     Options
	progress ProgressFunc

	indexMu sync.Mutex
	index   *index.Index // built on first Identify unless supplied
}

// New assembles a pipeline from its collaborators.
func New(det Detector, sel aggregate.Selector, c *codec.Codec, st store.Store, d verify.Decision, opts Options, options ...Option) *Pipeline {
	p := &Pipeline{
		detector: det,
		decoder:  sampler.FFmpegDecoder{},
		selector: sel,
		codec:    c,
		store:    st,
		decision: d,
		opts:     opts,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// OptionsFromConfig maps the loaded configuration onto pipeline options.
func OptionsFromConfig(cfg *config.Config) Options {
	q := cfg.Quality
	return Options{
		Primary:              quality.Policy{MinConfidence: q.MinConfidence, MaxAbsYaw: q.MaxAbsYaw, Stride: q.FrameStride},
		Fallback:             quality.Policy{MinConfidence: q.FallbackMinConfidence, MaxAbsYaw: q.FallbackMaxAbsYaw, Stride: q.FallbackStride},
		FallbackEnabled:      q.FallbackStride > 0,
		OutlierMinSimilarity: cfg.Aggregate.OutlierMinSimilarity,
		MaxWidth:             cfg.Frame.MaxWidth,
		MaxHeight:            cfg.Frame.MaxHeight,
		MaxFrames:            cfg.Frame.MaxFrames,
		IdentifyCandidates:   cfg.Match.IdentifyCandidates,
	}
}

// FromConfig builds the selector, codec and decision from cfg.
func FromConfig(cfg *config.Config, det Detector, st store.Store, options ...Option) (*Pipeline, error) {
	sel, err := aggregate.NewSelector(cfg.Aggregate)
	if err != nil {
		return nil, err
	}
	c, err := codec.New(cfg.Crypto.SecretKey, cfg.Crypto.PreviousKeys...)
	if err != nil {
		return nil, err
	}
	return New(det, sel, c, st, verify.NewDecision(cfg.Match.Threshold), OptionsFromConfig(cfg), options...), nil
}

// Threshold returns the decision threshold in use.
func (p *Pipeline) Threshold() float64 { return p.decision.Threshold }

// prepare normalizes an image for the detector. Undecodable input is a
// DecodeError.
func (p *Pipeline) prepare(data []byte) ([]byte, error) {
	img, err := imaging.Prepare(data, p.opts.MaxWidth, p.opts.MaxHeight)
	if err != nil {
		return nil, &sampler.DecodeError{Err: err}
	}
	return img, nil
}

// ProbeEmbedding returns the embedding of the largest face in image.
// Probe photos are not quality gated.
func (p *Pipeline) ProbeEmbedding(ctx context.Context, image []byte) ([]float32, error) {
	img, err := p.prepare(image)
	if err != nil {
		return nil, err
	}
	dets, err := p.detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	det, ok := quality.Largest(dets)
	if !ok || len(det.Embedding) == 0 {
		return nil, &aggregate.NoValidFaceError{Reason: "no face in image"}
	}
	return det.Embedding, nil
}

// loadIndex builds the identification index from the store on first use.
// A failed build is retried on the next call.
func (p *Pipeline) loadIndex(ctx context.Context) (*index.Index, error) {
	p.indexMu.Lock()
	defer p.indexMu.Unlock()
	if p.index != nil {
		return p.index, nil
	}
	ix, report, err := index.Build(ctx, p.store, p.codec)
	if err != nil {
		return nil, fmt.Errorf("failed to build identification index: %w", err)
	}
	logger.Info("identification index built", zap.Int("identities", report.Indexed), zap.Int("skipped", report.Skipped))
	p.index = ix
	return ix, nil
}

// updateIndex keeps an already built index in step with the store.
func (p *Pipeline) updateIndex(userID string, rep *codec.Representative) {
	p.indexMu.Lock()
	defer p.indexMu.Unlock()
	if p.index == nil {
		return
	}
	if rep == nil {
		p.index.Remove(userID)
		return
	}
	if err := p.index.Add(userID, *rep); err != nil {
		logger.Warn("identity not indexed", zap.String("user_id", userID), zap.Error(err))
	}
}

// isRequestError reports whether err belongs to the caller's input rather
// than to infrastructure.
func isRequestError(err error) bool {
	var de *sampler.DecodeError
	var nv *aggregate.NoValidFaceError
	return errors.As(err, &de) || errors.As(err, &nv)
}
