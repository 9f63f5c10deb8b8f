package strategy

import (
	"context"
	"fmt"

	flowerrors "github.com/randalmurphal/autoflow/internal/errors"
	"github.com/randalmurphal/autoflow/internal/git"
	"github.com/randalmurphal/autoflow/internal/task"
)

// Feature squashes work branches into the base branch.
type Feature struct{ base }

// NewFeature creates the feature strategy.
func NewFeature() *Feature {
	return &Feature{base{name: NameFeature, prefix: "feature", method: git.MethodSquash}}
}

// Hotfix keeps history and may fork from a dedicated base branch.
type Hotfix struct {
	base
	hotfixBase string
}

// NewHotfix creates the hotfix strategy. hotfixBase overrides the default
// base branch when set.
func NewHotfix(hotfixBase string) *Hotfix {
	return &Hotfix{
		base:       base{name: NameHotfix, prefix: "hotfix", method: git.MethodMerge, labels: []string{"hotfix"}},
		hotfixBase: hotfixBase,
	}
}

func (h *Hotfix) BaseBranch(defaultBase string) string {
	if h.hotfixBase != "" {
		return h.hotfixBase
	}
	return defaultBase
}

// Release merges with a merge commit and tags the result.
type Release struct{ base }

// NewRelease creates the release strategy.
func NewRelease() *Release {
	return &Release{base{name: NameRelease, prefix: "release", method: git.MethodMerge, labels: []string{"release"}}}
}

// TagName is "v<version>" when the task carries a version, else
// "release-<id8>".
func (r *Release) TagName(t *task.Task) string {
	if t == nil {
		return "release"
	}
	if v := t.Meta(task.MetaVersion); v != "" {
		if v[0] == 'v' {
			return v
		}
		return "v" + v
	}
	return "release-" + sanitize(t.ID, 8, "0")
}

// Merge merges and then tags the target. When only the tag fails, the
// merged result is returned with a recoverable ErrReleaseTag error.
func (r *Release) Merge(ctx context.Context, svc git.Service, path, source, target string, opts MergeOptions) (*MergeResult, error) {
	res, err := r.base.Merge(ctx, svc, path, source, target, opts)
	if err != nil {
		return nil, err
	}
	if err := r.TagMerge(ctx, svc, path, target, res, opts); err != nil {
		return res, err
	}
	return res, nil
}

// TagMerge tags the merge described by merged and records the tag in it.
func (r *Release) TagMerge(ctx context.Context, svc git.Service, path, target string, merged *MergeResult, opts MergeOptions) error {
	tag := r.TagName(opts.Task)
	if err := git.ValidateBranchName(tag); err != nil {
		return flowerrors.ErrReleaseTag(tag, err)
	}
	ref := target
	if merged.ViaProvider {
		// The provider merged remotely; the local target may be behind.
		ref = ""
	}
	if err := svc.Tag(ctx, path, tag, ref, fmt.Sprintf("Release %s", tag)); err != nil {
		return flowerrors.ErrReleaseTag(tag, err)
	}
	merged.Tag = tag
	return nil
}
