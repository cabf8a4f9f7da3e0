package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/andresmejia3/faceauth/internal/aggregate"
	"github.com/andresmejia3/faceauth/internal/codec"
	"github.com/andresmejia3/faceauth/internal/logger"
	"github.com/andresmejia3/faceauth/internal/matcher"
	"github.com/andresmejia3/faceauth/internal/store"
	"github.com/andresmejia3/faceauth/internal/verify"
	"go.uber.org/zap"
)

type RegisterRequest struct {
	UserID    string
	ConcertID string
	Video     io.Reader
}

// RegistrationResult describes what was stored for a user.
type RegistrationResult struct {
	UserID                string             `json:"user_id"`
	Frames                int                `json:"frames"`
	Sampled               int                `json:"sampled"`
	Accepted              int                `json:"accepted"`
	Retained              int                `json:"retained"`
	Count                 int                `json:"count"`
	Dim                   int                `json:"dim"`
	Strategy              aggregate.Strategy `json:"strategy"`
	FallbackPass          bool               `json:"fallback_pass"`
	ClusterFallback       bool               `json:"cluster_fallback,omitempty"`
	ClusterFallbackReason string             `json:"cluster_fallback_reason,omitempty"`
}

// Register extracts a representative from the video, encrypts it and
// stores it under req.UserID, replacing any earlier registration.
func (p *Pipeline) Register(ctx context.Context, req RegisterRequest) (RegistrationResult, error) {
	if req.UserID == "" {
		return RegistrationResult{}, errors.New("user id is required")
	}

	ex, err := p.ExtractVideo(ctx, req.Video)
	if err != nil {
		logFailure("register", req.UserID, err)
		return RegistrationResult{}, err
	}

	kept, report := aggregate.RejectOutliers(ex.Set, p.opts.OutlierMinSimilarity)
	if report.Restored {
		logger.Warn("every embedding fell below the outlier threshold, keeping all",
			zap.String("user_id", req.UserID), zap.Int("embeddings", report.Input))
	}

	sel, err := p.selector.Select(kept)
	if err != nil {
		logFailure("register", req.UserID, err)
		return RegistrationResult{}, err
	}
	if sel.FellBack {
		logger.Warn("clustering failed, stored the mean instead",
			zap.String("user_id", req.UserID), zap.Error(sel.FallbackReason))
	}

	blob, err := p.codec.Encode(sel.Representative)
	if err != nil {
		return RegistrationResult{}, err
	}
	rec := store.Record{
		UserID:    req.UserID,
		ConcertID: req.ConcertID,
		Blob:      blob,
		Count:     sel.Representative.Count(),
		Dim:       sel.Representative.Dim(),
	}
	if err := p.store.Upsert(ctx, rec); err != nil {
		return RegistrationResult{}, fmt.Errorf("failed to store identity: %w", err)
	}
	p.updateIndex(req.UserID, &sel.Representative)

	res := RegistrationResult{
		UserID:          req.UserID,
		Frames:          ex.Frames,
		Sampled:         ex.Sampled,
		Accepted:        ex.Accepted,
		Retained:        report.Kept,
		Count:           rec.Count,
		Dim:             rec.Dim,
		Strategy:        sel.Strategy,
		FallbackPass:    ex.FallbackPass,
		ClusterFallback: sel.FellBack,
	}
	if sel.FallbackReason != nil {
		res.ClusterFallbackReason = sel.FallbackReason.Error()
	}

	logger.Info("identity registered",
		zap.String("user_id", req.UserID),
		zap.Int("accepted", res.Accepted),
		zap.Int("retained", res.Retained),
		zap.Int("vectors", res.Count),
		zap.String("strategy", string(res.Strategy)),
		zap.Bool("fallback_pass", res.FallbackPass))
	return res, nil
}

type VerifyRequest struct {
	UserID string
	Live   []byte
	IDCard []byte // optional
}

// Verify compares a live photo with the stored identity and, when given,
// with an id card photo. Every comparison must clear the threshold.
func (p *Pipeline) Verify(ctx context.Context, req VerifyRequest) (verify.Result, error) {
	rec, err := p.store.Get(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return verify.Result{}, fmt.Errorf("%s: %w", req.UserID, err)
		}
		return verify.Result{}, fmt.Errorf("failed to load identity: %w", err)
	}
	rep, err := p.codec.Decode(rec.Blob)
	if err != nil {
		logger.Error("stored identity unreadable", zap.String("user_id", req.UserID), zap.Error(err))
		return verify.Result{}, err
	}

	live, err := p.ProbeEmbedding(ctx, req.Live)
	if err != nil {
		logFailure("verify", req.UserID, err)
		return verify.Result{}, err
	}
	face, err := matcher.Best(live, rep.Vectors)
	if err != nil {
		return verify.Result{}, err
	}
	comps := []verify.Comparison{{Name: "face", Score: face.Score}}

	if len(req.IDCard) > 0 {
		id, err := p.ProbeEmbedding(ctx, req.IDCard)
		if err != nil {
			logFailure("verify", req.UserID, err)
			return verify.Result{}, fmt.Errorf("id card: %w", err)
		}
		s, err := matcher.Score(live, id)
		if err != nil {
			return verify.Result{}, err
		}
		comps = append(comps, verify.Comparison{Name: "id", Score: s})
	}

	res := p.decision.Decide(req.UserID, comps...)
	logger.Info("verification decided",
		zap.String("user_id", req.UserID),
		zap.Stringer("outcome", res.Outcome),
		zap.Float64("face", face.Score),
		zap.Int("matched_vector", face.Index))
	return res, nil
}

// Identify finds the registered user closest to the face in image.
func (p *Pipeline) Identify(ctx context.Context, image []byte) (verify.Result, error) {
	probe, err := p.ProbeEmbedding(ctx, image)
	if err != nil {
		logFailure("identify", "", err)
		return verify.Result{}, err
	}
	ix, err := p.loadIndex(ctx)
	if err != nil {
		return verify.Result{}, err
	}
	cands, err := ix.Search(probe, max(p.opts.IdentifyCandidates, 1))
	if err != nil {
		return verify.Result{}, err
	}
	if len(cands) == 0 {
		return p.decision.Decide(verify.Unknown), nil
	}

	top := cands[0]
	res := p.decision.Decide(top.UserID, verify.Comparison{Name: "face", Score: top.Match.Score})
	logger.Info("identification decided",
		zap.String("candidate", top.UserID),
		zap.Stringer("outcome", res.Outcome),
		zap.Float64("face", top.Match.Score),
		zap.Int("candidates", len(cands)))
	return res, nil
}

// Delete removes a user's identity.
func (p *Pipeline) Delete(ctx context.Context, userID string) error {
	if err := p.store.Delete(ctx, userID); err != nil {
		return err
	}
	p.updateIndex(userID, nil)
	return nil
}

// Reset removes every identity.
func (p *Pipeline) Reset(ctx context.Context) error {
	if err := p.store.Reset(ctx); err != nil {
		return err
	}
	p.indexMu.Lock()
	p.index = nil
	p.indexMu.Unlock()
	return nil
}

// Codec exposes the pipeline's codec for tooling that reads records directly.
func (p *Pipeline) Codec() *codec.Codec { return p.codec }

func logFailure(op, userID string, err error) {
	if isRequestError(err) {
		logger.Info(op+" rejected", zap.String("user_id", userID), zap.Error(err))
		return
	}
	logger.Error(op+" failed", zap.String("user_id", userID), zap.Error(err))
}
