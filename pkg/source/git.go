package source

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"vantage-hq/warden/pkg/rcp"
)

// GitConfig configures a git draft source.
type GitConfig struct {
	// URL is the repository to clone.
	URL string

	// Branch is the branch to track. Default: the remote default.
	Branch string

	// LocalPath is where the working copy lives.
	LocalPath string

	// PolicyPath is the directory of draft files inside the
	// repository. Default: repository root.
	PolicyPath string

	// Token enables HTTP token auth when set.
	Token string

	// PollInterval is how often Watch pulls. Default: 1 minute.
	PollInterval time.Duration
}

// GitSource loads policy drafts from a git repository, recording the
// commit SHA they came from. Decision records carry that SHA as
// provenance.
type GitSource struct {
	config *GitConfig
	logger *slog.Logger

	mu   sync.Mutex
	repo *gogit.Repository
}

// NewGitSource creates a git draft source. The repository is cloned on
// first Load.
func NewGitSource(config *GitConfig) (*GitSource, error) {
	if config == nil || config.URL == "" {
		return nil, fmt.Errorf("git source requires a repository URL")
	}
	if config.LocalPath == "" {
		return nil, fmt.Errorf("git source requires a local path")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Minute
	}
	return &GitSource{
		config: config,
		logger: slog.Default().With("component", "source.git"),
	}, nil
}

// Load implements DraftSource. The returned revision is the HEAD commit
// SHA of the working copy after sync.
func (s *GitSource) Load(ctx context.Context) ([]*rcp.Policy, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sync(ctx); err != nil {
		return nil, "", err
	}

	head, err := s.repo.Head()
	if err != nil {
		return nil, "", fmt.Errorf("reading HEAD: %w", err)
	}
	revision := head.Hash().String()

	dir := s.config.LocalPath
	if s.config.PolicyPath != "" {
		dir = filepath.Join(dir, s.config.PolicyPath)
	}
	drafts, err := rcp.LoadDraftDir(dir)
	if err != nil {
		return nil, "", err
	}

	s.logger.Debug("drafts loaded from git",
		"revision", revision,
		"count", len(drafts),
	)
	return drafts, revision, nil
}

// Watch implements Watchable by polling the remote.
func (s *GitSource) Watch(ctx context.Context, onChange func() error) error {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	var lastSeen string
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("git draft watcher stopped")
			return nil
		case <-ticker.C:
		}

		s.mu.Lock()
		err := s.sync(ctx)
		var revision string
		if err == nil {
			if head, herr := s.repo.Head(); herr == nil {
				revision = head.Hash().String()
			}
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("git poll failed", "error", err)
			continue
		}
		if revision == "" || revision == lastSeen {
			continue
		}

		s.logger.Info("draft repository changed", "revision", revision)
		lastSeen = revision
		if err := onChange(); err != nil {
			s.logger.Error("draft reload failed", "revision", revision, "error", err)
		}
	}
}

// sync clones on first use and fast-forwards afterwards. The caller
// holds s.mu.
func (s *GitSource) sync(ctx context.Context) error {
	auth := s.auth()

	if s.repo == nil {
		repo, err := gogit.PlainOpen(s.config.LocalPath)
		if err == gogit.ErrRepositoryNotExists {
			opts := &gogit.CloneOptions{URL: s.config.URL, Auth: auth}
			if s.config.Branch != "" {
				opts.ReferenceName = plumbing.NewBranchReferenceName(s.config.Branch)
				opts.SingleBranch = true
			}
			repo, err = gogit.PlainCloneContext(ctx, s.config.LocalPath, false, opts)
			if err != nil {
				return fmt.Errorf("cloning %s: %w", s.config.URL, err)
			}
			s.logger.Info("draft repository cloned", "url", s.config.URL, "path", s.config.LocalPath)
		} else if err != nil {
			return fmt.Errorf("opening %s: %w", s.config.LocalPath, err)
		}
		s.repo = repo
		return nil
	}

	worktree, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("reading worktree: %w", err)
	}
	err = worktree.PullContext(ctx, &gogit.PullOptions{Auth: auth})
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		return fmt.Errorf("pulling %s: %w", s.config.URL, err)
	}
	return nil
}

func (s *GitSource) auth() transport.AuthMethod {
	if s.config.Token == "" {
		return nil
	}
	// go-git requires a non-empty username with token auth; its value
	// is ignored by the common hosts.
	return &githttp.BasicAuth{Username: "token", Password: s.config.Token}
}
