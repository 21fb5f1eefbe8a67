package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/quire/internal/normalize"
	"github.com/mesh-intelligence/quire/pkg/query"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// checkStatus validates the status change an article update makes and
// returns the intent to execute. Publishing an article that was never
// published also sets published_at.
//
// The returned intent is a copy when derived assignments are added; the
// caller's intent is not modified.
func (a *Adapter) checkStatus(ctx context.Context, b Backend, in *query.Intent) (*query.Intent, error) {
	asg, ok := in.Assignment("status")
	if !ok {
		return in, nil
	}
	if asg.KeepIfNull && in.Arg(asg.Value) == nil {
		// status = COALESCE(NULL, status) keeps the current status.
		return in, nil
	}
	next := types.Status(normalize.Text(in.Arg(asg.Value)))
	if !next.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidStatus, next)
	}
	id, err := in.TargetID()
	if err != nil {
		return nil, err
	}

	cur, err := b.Get(ctx, types.EntityArticle, id)
	if errors.Is(err, types.ErrNotFound) {
		// Nothing to check; the update matches no row.
		return in, nil
	}
	if err != nil {
		return nil, a.backendError(b, "get", err)
	}

	from := types.Status(normalize.Text(cur["status"]))
	if from == "" {
		from = types.StatusDraft
	}
	if !from.CanTransition(next) {
		return nil, fmt.Errorf("%w: article %d cannot move from %s to %s", types.ErrInvalidTransition, id, from, next)
	}

	if next != types.StatusPublished || !isEmpty(cur["published_at"]) {
		return in, nil
	}
	if _, set := in.Assignment("published_at"); set {
		return in, nil
	}
	out := *in
	out.Derived = append(append([]query.Assignment{}, in.Derived...),
		query.Assignment{Field: "published_at", Value: query.Now()})
	return &out, nil
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []byte:
		return len(x) == 0
	}
	return false
}

// SoftDelete marks an article deleted. Deleting an already deleted
// article succeeds without changing it.
func (a *Adapter) SoftDelete(ctx context.Context, id int64) (types.MutationResult, error) {
	in, err := query.SoftDelete(types.EntityArticle, id)
	if err != nil {
		return types.MutationResult{}, err
	}
	in.Guard = append(in.Guard, query.Cond{Field: "status", Op: query.CmpNe, Value: query.Lit(string(types.StatusDeleted))})
	return a.Apply(ctx, in)
}

// Restore returns a soft-deleted article to draft. Articles in any other
// state are rejected with types.ErrInvalidTransition.
func (a *Adapter) Restore(ctx context.Context, id int64) (types.MutationResult, error) {
	b, err := a.Backend(ctx)
	if err != nil {
		return types.MutationResult{}, err
	}
	cur, err := b.Get(ctx, types.EntityArticle, id)
	if err != nil {
		return types.MutationResult{}, a.backendError(b, "get", err)
	}
	if status := types.Status(normalize.Text(cur["status"])); status != types.StatusDeleted {
		return types.MutationResult{}, fmt.Errorf("%w: article %d is %s, not deleted", types.ErrInvalidTransition, id, status)
	}

	in, err := query.Update(types.EntityArticle, id).
		Set("status", string(types.StatusDraft)).
		Touch("updated_at").
		Build()
	if err != nil {
		return types.MutationResult{}, err
	}
	return a.Apply(ctx, in)
}

// HardDelete removes the record of e permanently. Records that reference
// it are left for the caller to clean up.
func (a *Adapter) HardDelete(ctx context.Context, e types.Entity, id int64) (types.MutationResult, error) {
	in, err := query.Delete(e, id)
	if err != nil {
		return types.MutationResult{}, err
	}
	return a.Apply(ctx, in)
}

// SetImage resolves src and stores it as the article's featured image. A
// nil source, or a URL source with no URL, leaves the current image.
func (a *Adapter) SetImage(ctx context.Context, id int64, src types.ImageSource) (types.MutationResult, error) {
	img, err := types.ResolveImage(ctx, src, a.images)
	if err != nil {
		return types.MutationResult{}, err
	}
	var v any
	if img != nil {
		v = img
	}
	in, err := query.Update(types.EntityArticle, id).
		Set("featured_image", v).
		Touch("updated_at").
		Build()
	if err != nil {
		return types.MutationResult{}, err
	}
	return a.Apply(ctx, in)
}
