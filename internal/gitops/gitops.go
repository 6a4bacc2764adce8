// Package gitops integrates mission results into the workspace repository:
// a branch per mission, one commit carrying the mission's changes.
package gitops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/missiond/internal/mission"
)

// committer identifies missiond in commit metadata.
const (
	committerName  = "missiond"
	committerEmail = "missiond@localhost"
)

// maxSlugLen bounds the title portion of a branch name.
const maxSlugLen = 40

// Integrator performs the integrate phase against a git working tree.
type Integrator struct {
	repoPath string
	logger   *zap.Logger
}

// NewIntegrator creates an integrator for the repository at repoPath.
// A nil logger is replaced with a no-op logger.
func NewIntegrator(repoPath string, logger *zap.Logger) *Integrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Integrator{repoPath: repoPath, logger: logger}
}

// BranchName derives the mission branch name: mission-{short id}-{slug}.
func BranchName(m *mission.Mission) string {
	shortID := m.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	slug := slugify(m.Title)
	if slug == "" {
		return "mission-" + shortID
	}
	return fmt.Sprintf("mission-%s-%s", shortID, slug)
}

// CreateBranch creates and checks out the mission branch from the current
// HEAD. An existing branch of the same name is checked out as-is.
func (i *Integrator) CreateBranch(ctx context.Context, m *mission.Mission) (string, error) {
	repo, err := git.PlainOpen(i.repoPath)
	if err != nil {
		return "", fmt.Errorf("failed to open repository %s: %w", i.repoPath, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	name := BranchName(m)
	branchRef := plumbing.NewBranchReferenceName(name)

	_, err = repo.Reference(branchRef, true)
	create := err != nil

	if err := wt.Checkout(&git.CheckoutOptions{
		Branch: branchRef,
		Create: create,
		Keep:   true,
	}); err != nil {
		return "", fmt.Errorf("failed to checkout branch %s: %w", name, err)
	}

	i.logger.Info("mission branch ready",
		zap.String("mission_id", m.ID),
		zap.String("branch", name),
		zap.Bool("created", create),
	)
	return name, nil
}

// Commit stages all changes and commits them on the current branch. A clean
// worktree returns an empty hash without error.
func (i *Integrator) Commit(ctx context.Context, m *mission.Mission) (string, error) {
	repo, err := git.PlainOpen(i.repoPath)
	if err != nil {
		return "", fmt.Errorf("failed to open repository %s: %w", i.repoPath, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		i.logger.Info("worktree clean, nothing to commit",
			zap.String("mission_id", m.ID))
		return "", nil
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}

	msg := commitMessage(m)
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  committerName,
			Email: committerEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}

	i.logger.Info("mission changes committed",
		zap.String("mission_id", m.ID),
		zap.String("commit", hash.String()),
	)
	return hash.String(), nil
}

func commitMessage(m *mission.Mission) string {
	var b strings.Builder
	b.WriteString(m.Title)
	b.WriteString("\n\n")
	b.WriteString(m.Objective)
	b.WriteString("\n\nMission: ")
	b.WriteString(m.ID)
	b.WriteString("\n")
	return b.String()
}

// slugify lowercases s and reduces it to hyphen-separated alphanumeric runs.
func slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
