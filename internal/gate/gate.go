// Package gate implements the dedup/admission checkpoint: at most one
// non-terminal review exists per target at any time.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/codehound/reviewhub/internal/core"
	"github.com/codehound/reviewhub/internal/storage"
)

// AdmissionResult reports the outcome of an admission check.
type AdmissionResult struct {
	Created bool
	Review  *core.Review
}

// Gate decides whether a review request may create a new review job.
type Gate struct {
	store  storage.Store
	logger *slog.Logger
}

// New creates an admission gate over the given store.
func New(store storage.Store, logger *slog.Logger) *Gate {
	return &Gate{store: store, logger: logger}
}

// Admit normalizes the request into a pending review row, or returns the
// existing live review for the same target as a core.ConflictError. Ad-hoc
// requests have no dedup target and always admit. The atomicity of the
// check-then-create lives in the store's conflict-guarded insert, so
// concurrent admissions for the same target all observe the same review id.
func (g *Gate) Admit(ctx context.Context, req *core.ReviewRequest, parentReviewID *int64) (*AdmissionResult, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode review request: %w", err)
	}

	review := &core.Review{
		TargetKind:     req.TargetKind,
		TargetRef:      req.TargetRef,
		RepositoryID:   req.RepositoryID,
		CreatedBy:      req.RequestedBy,
		ParentReviewID: parentReviewID,
		Status:         core.StatusPending,
		Request:        raw,
	}
	if err := g.resolveTarget(ctx, req, review); err != nil {
		return nil, err
	}

	created, row, err := g.store.CreateReviewForTarget(ctx, review)
	if err != nil {
		return nil, err
	}
	if !created {
		g.logger.Info("admission refused, live review exists",
			"target_kind", req.TargetKind,
			"target_ref", req.TargetRef,
			"review_id", row.ID,
			"status", row.Status,
		)
		return &AdmissionResult{Created: false, Review: row}, &core.ConflictError{Existing: row}
	}

	g.logger.Info("review admitted",
		"review_id", row.ID,
		"target_kind", req.TargetKind,
		"target_ref", req.TargetRef,
	)
	return &AdmissionResult{Created: true, Review: row}, nil
}

// resolveTarget attaches the foreign reference the request points at. Ad-hoc
// requests have none.
func (g *Gate) resolveTarget(ctx context.Context, req *core.ReviewRequest, review *core.Review) error {
	switch req.TargetKind {
	case core.TargetCommit:
		if req.RepositoryID == nil {
			return &core.ValidationError{Field: "repository_id", Message: "repository_id is required for commit reviews"}
		}
		commit, err := g.store.GetCommitByHash(ctx, *req.RepositoryID, req.CommitHash)
		if err != nil {
			return err
		}
		review.CommitID = &commit.ID
	case core.TargetPullRequest:
		if req.RepositoryID == nil {
			return &core.ValidationError{Field: "repository_id", Message: "repository_id is required for pull request reviews"}
		}
		pr, err := g.store.GetPullRequestByNumber(ctx, *req.RepositoryID, req.PRNumber)
		if err != nil {
			return err
		}
		review.PullRequestID = &pr.ID
	case core.TargetAdHocDiff:
		// no durable target
	default:
		return &core.ValidationError{Field: "target_kind", Message: fmt.Sprintf("unknown target kind %q", req.TargetKind)}
	}
	return nil
}
