package git

import (
	"context"

	"github.com/randalmurphal/autoflow/internal/errors"
	"github.com/randalmurphal/autoflow/internal/hosting"
	"github.com/randalmurphal/autoflow/internal/lock"
)

// LockedService serializes mutating operations per project path.
// BranchExists is read-only and not locked.
type LockedService struct {
	Service
	locker lock.Locker
}

// Locked wraps svc so mutations on the same path never overlap.
func Locked(svc Service, locker lock.Locker) *LockedService {
	return &LockedService{Service: svc, locker: locker}
}

func (s *LockedService) with(ctx context.Context, path string, fn func() error) error {
	release, err := s.locker.Lock(ctx, path)
	if err != nil {
		return errors.ErrGitOperation("lock "+path, err)
	}
	defer release()
	return fn()
}

func (s *LockedService) CreateBranch(ctx context.Context, path, name, base string) error {
	return s.with(ctx, path, func() error { return s.Service.CreateBranch(ctx, path, name, base) })
}

func (s *LockedService) DeleteBranch(ctx context.Context, path, name string) error {
	return s.with(ctx, path, func() error { return s.Service.DeleteBranch(ctx, path, name) })
}

func (s *LockedService) CreatePullRequest(ctx context.Context, path string, req PullRequestRequest) (*hosting.PR, error) {
	var pr *hosting.PR
	err := s.with(ctx, path, func() error {
		var err error
		pr, err = s.Service.CreatePullRequest(ctx, path, req)
		return err
	})
	return pr, err
}

func (s *LockedService) Merge(ctx context.Context, path string, req MergeRequest) (*MergeOutcome, error) {
	var out *MergeOutcome
	err := s.with(ctx, path, func() error {
		var err error
		out, err = s.Service.Merge(ctx, path, req)
		return err
	})
	return out, err
}

func (s *LockedService) Tag(ctx context.Context, path, name, ref, message string) error {
	return s.with(ctx, path, func() error { return s.Service.Tag(ctx, path, name, ref, message) })
}
