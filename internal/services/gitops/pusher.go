package gitops

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"remotedev/internal/config"
	"remotedev/internal/services"
)

// Pusher pushes local branches of one repository.
type Pusher struct {
	repoPath string
	remote   string
	username string
	token    string
}

// New constructs a Pusher for the repository at repoPath.
func New(repoPath, remote, username, token string) *Pusher {
	if strings.TrimSpace(remote) == "" {
		remote = "origin"
	}
	return &Pusher{
		repoPath: strings.TrimSpace(repoPath),
		remote:   remote,
		username: username,
		token:    strings.TrimSpace(token),
	}
}

// NewFromConfig builds a Pusher from the [git] section, reusing the GitHub token.
func NewFromConfig(cfg *config.Config) *Pusher {
	return New(cfg.Git.RepoPath, cfg.Git.Remote, cfg.Git.Username, cfg.GitHub.Token)
}

// Configured reports whether a repository path is set.
func (p *Pusher) Configured() bool {
	return p != nil && p.repoPath != ""
}

// PushBranch pushes refs/heads/branch to the same name on the remote.
// A remote that is already up to date is not an error.
func (p *Pusher) PushBranch(ctx context.Context, branch string) error {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return services.Wrap(services.ErrValidation, "gitops", "push branch", "branch name is empty", nil)
	}
	repo, err := p.open()
	if err != nil {
		return err
	}
	ref := plumbing.NewBranchReferenceName(branch)
	if _, err := repo.Reference(ref, true); err != nil {
		return services.Wrap(services.ErrValidation, "gitops", "push branch", fmt.Sprintf("branch %s not found", branch), err)
	}
	opts := &git.PushOptions{
		RemoteName: p.remote,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(fmt.Sprintf("%s:%s", ref, ref))},
	}
	if p.token != "" {
		opts.Auth = &githttp.BasicAuth{Username: p.username, Password: p.token}
	}
	if err := repo.PushContext(ctx, opts); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		if errors.Is(err, git.ErrRemoteNotFound) {
			return services.Wrap(services.ErrConfiguration, "gitops", "push branch", "remote "+p.remote+" not found", err)
		}
		return services.Wrap(services.ErrExternalService, "gitops", "push branch", "push "+branch, err)
	}
	return nil
}

// CurrentBranch returns the short name of the checked out branch.
func (p *Pusher) CurrentBranch() (string, error) {
	repo, err := p.open()
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "gitops", "current branch", "resolve HEAD", err)
	}
	if !head.Name().IsBranch() {
		return "", services.Wrap(services.ErrValidation, "gitops", "current branch", "HEAD is detached", nil)
	}
	return head.Name().Short(), nil
}

func (p *Pusher) open() (*git.Repository, error) {
	if p.repoPath == "" {
		return nil, services.Wrap(services.ErrConfiguration, "gitops", "open", "git.repo_path is not set", nil)
	}
	repo, err := git.PlainOpen(p.repoPath)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "gitops", "open", "open repository "+p.repoPath, err)
	}
	return repo, nil
}
