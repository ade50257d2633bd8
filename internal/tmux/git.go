package tmux

import (
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
)

type GitInfo struct {
	Branch    string
	UpdatedAt time.Time
}

// GitCache remembers the checked-out branch per directory for ttl.
type GitCache struct {
	cache map[string]*GitInfo
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
}

func NewGitCache(ttl time.Duration) *GitCache {
	return &GitCache{
		cache: make(map[string]*GitInfo),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Branch returns the branch for dir, or "" outside a repository.
func (c *GitCache) Branch(dir string) string {
	if dir == "" {
		return ""
	}
	c.mu.RLock()
	info, ok := c.cache[dir]
	c.mu.RUnlock()
	if ok && c.now().Sub(info.UpdatedAt) < c.ttl {
		return info.Branch
	}

	info = &GitInfo{Branch: ResolveBranch(dir), UpdatedAt: c.now()}
	c.mu.Lock()
	c.cache[dir] = info
	c.mu.Unlock()
	return info.Branch
}

// ResolveBranch opens the repository containing dir and names HEAD:
// the short branch name, or the abbreviated hash when detached.
func ResolveBranch(dir string) string {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	if head.Name().IsBranch() {
		return head.Name().Short()
	}
	return head.Hash().String()[:7]
}
