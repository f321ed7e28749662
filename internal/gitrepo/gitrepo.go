// Package gitrepo reads the local git checkout: the current branch, the
// ticket key embedded in it, and the GitHub repository behind origin.
package gitrepo

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

var (
	// ErrNotRepository is returned when path is not inside a git work tree.
	ErrNotRepository = errors.New("not a git repository")
	// ErrDetachedHead is returned when HEAD does not point at a branch.
	ErrDetachedHead = errors.New("HEAD is detached")
	// ErrNoTaskID is returned when the branch name carries no ticket key.
	ErrNoTaskID = errors.New("no ticket key in branch name")
	// ErrNoOrigin is returned when origin is missing or not on GitHub.
	ErrNoOrigin = errors.New("no GitHub origin remote")
)

// Ticket keys look like PROJ-123; branch names often lowercase them. A
// trailing dot rules out version strings such as go-1.25.
var taskIDPattern = regexp.MustCompile(`(?i)(?:^|[^a-z0-9])([a-z][a-z0-9]+-[0-9]+)(?:$|[^a-z0-9.])`)

var (
	sshRemote   = regexp.MustCompile(`^(?:ssh://)?git@github\.com[:/]([^/]+)/([^/]+?)(?:\.git)?/?$`)
	httpsRemote = regexp.MustCompile(`^https?://(?:[^@/]+@)?github\.com/([^/]+)/([^/]+?)(?:\.git)?/?$`)
)

func open(path string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, path)
		}
		return nil, fmt.Errorf("opening repository at %s: %w", path, err)
	}
	return repo, nil
}

// CurrentBranch returns the short name of the branch HEAD points at. A
// branch with no commits yet is still reported.
func CurrentBranch(path string) (string, error) {
	repo, err := open(path)
	if err != nil {
		return "", err
	}
	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	if head.Type() != plumbing.SymbolicReference || !head.Target().IsBranch() {
		return "", ErrDetachedHead
	}
	return head.Target().Short(), nil
}

// TaskIDFromBranch extracts the first ticket key from a branch name and
// upper-cases it: "feature/proj-123-retry" yields "PROJ-123".
func TaskIDFromBranch(branch string) (string, error) {
	m := taskIDPattern.FindStringSubmatch(branch)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrNoTaskID, branch)
	}
	return strings.ToUpper(m[1]), nil
}

// InferTaskID reads the current branch at path and extracts its ticket key.
func InferTaskID(path string) (string, error) {
	branch, err := CurrentBranch(path)
	if err != nil {
		return "", err
	}
	return TaskIDFromBranch(branch)
}

// OriginRepo returns "owner/name" for a GitHub origin remote.
func OriginRepo(path string) (string, error) {
	repo, err := open(path)
	if err != nil {
		return "", err
	}
	remote, err := repo.Remote("origin")
	if err != nil {
		return "", ErrNoOrigin
	}
	for _, u := range remote.Config().URLs {
		if r, ok := ParseGitHubRemote(u); ok {
			return r, nil
		}
	}
	return "", ErrNoOrigin
}

// ParseGitHubRemote parses SSH and HTTPS GitHub remote URLs into
// "owner/name".
func ParseGitHubRemote(url string) (string, bool) {
	url = strings.TrimSpace(url)
	for _, re := range []*regexp.Regexp{sshRemote, httpsRemote} {
		if m := re.FindStringSubmatch(url); m != nil {
			return m[1] + "/" + m[2], true
		}
	}
	return "", false
}
