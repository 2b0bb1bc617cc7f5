// Package mirror keeps a git-versioned markdown copy of every requirement.
// One repository per tenant+project; one file per requirement, keyed by
// hashId so the file survives ref rewrites. Writes are best-effort: a
// mirror failure never rolls back the graph transaction that preceded it.
package mirror

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"reqgraph/api/internal/store"
)

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Write renders the requirement snapshot to markdown and commits it to the
// project mirror repository.
func (s *Service) Write(item store.Requirement) error {
	lock := s.projectLock(item.TenantSlug, item.ProjectSlug)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(item.TenantSlug, item.ProjectSlug)
	if err != nil {
		return err
	}

	relPath := filepath.Join("requirements", item.HashID+".md")
	fullPath := filepath.Join(s.repoPath(item.TenantSlug, item.ProjectSlug), relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("create mirror dir: %w", err)
	}
	if err := os.WriteFile(fullPath, []byte(renderMarkdown(item)), 0o644); err != nil {
		return fmt.Errorf("write mirror file: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if _, err := worktree.Add(relPath); err != nil {
		return fmt.Errorf("git add mirror file: %w", err)
	}

	message := "Update " + item.Ref
	if item.Deleted {
		message = "Delete " + item.Ref
	}
	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: mirrorSignature(),
	})
	if err != nil && !errors.Is(err, git.ErrEmptyCommit) {
		return fmt.Errorf("commit mirror file: %w", err)
	}
	return nil
}

// History returns the mirror commit messages for a project, newest first.
func (s *Service) History(tenantSlug, projectSlug string, limit int) ([]string, error) {
	lock := s.projectLock(tenantSlug, projectSlug)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(tenantSlug, projectSlug))
	if err != nil {
		return nil, fmt.Errorf("open mirror repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("read mirror head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read mirror log: %w", err)
	}
	defer iter.Close()

	messages := make([]string, 0, limit)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		messages = append(messages, strings.TrimSpace(commitObj.Message))
		if limit > 0 && len(messages) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate mirror log: %w", err)
	}
	return messages, nil
}

func (s *Service) ensureRepo(tenantSlug, projectSlug string) (*git.Repository, error) {
	path := s.repoPath(tenantSlug, projectSlug)
	if repo, err := git.PlainOpen(path); err == nil {
		return repo, nil
	} else if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open mirror repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create mirror repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init mirror repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	readme := fmt.Sprintf("# Requirements mirror\n\nTenant: %s\nProject: %s\n", tenantSlug, projectSlug)
	if err := os.WriteFile(filepath.Join(path, "README.md"), []byte(readme), 0o644); err != nil {
		return nil, fmt.Errorf("write mirror readme: %w", err)
	}
	if _, err := worktree.Add("README.md"); err != nil {
		return nil, fmt.Errorf("git add mirror readme: %w", err)
	}
	hash, err := worktree.Commit("Initialize requirements mirror", &git.CommitOptions{
		Author: mirrorSignature(),
	})
	if err != nil {
		return nil, fmt.Errorf("commit mirror baseline: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return nil, fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(tenantSlug, projectSlug string) string {
	return filepath.Join(s.baseDir, tenantSlug, projectSlug)
}

func (s *Service) projectLock(tenantSlug, projectSlug string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	key := tenantSlug + ":" + projectSlug
	lock, ok := s.locks[key]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[key] = lock
	return lock
}

func mirrorSignature() *object.Signature {
	return &object.Signature{
		Name:  "Requirements Mirror",
		Email: "mirror@localhost",
		When:  time.Now(),
	}
}

func renderMarkdown(item store.Requirement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", item.Ref)
	fmt.Fprintf(&b, "- id: %s\n", item.ID)
	fmt.Fprintf(&b, "- hashId: %s\n", item.HashID)
	if item.DocumentSlug != "" {
		fmt.Fprintf(&b, "- document: %s\n", item.DocumentSlug)
	}
	if item.SectionID != "" {
		fmt.Fprintf(&b, "- section: %s\n", item.SectionID)
	}
	if item.Pattern != "" {
		fmt.Fprintf(&b, "- pattern: %s\n", item.Pattern)
	}
	if item.Verification != "" {
		fmt.Fprintf(&b, "- verification: %s\n", item.Verification)
	}
	if len(item.Tags) > 0 {
		fmt.Fprintf(&b, "- tags: %s\n", strings.Join(item.Tags, ", "))
	}
	if item.Deleted {
		b.WriteString("- deleted: true\n")
	}
	fmt.Fprintf(&b, "\n%s\n", item.Text)
	return b.String()
}
