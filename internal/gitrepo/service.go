// Package gitrepo keeps one bare git repository per document. Every save is
// a commit whose tree holds a single content.json; named versions are tags.
package gitrepo

import (
	"bytes"
	"encoding/json"
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
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"inkwell/api/internal/store"
)

const contentFile = "content.json"

var mainRef = plumbing.NewBranchReferenceName("main")

// ErrNoRepository is returned for documents that were never committed.
var ErrNoRepository = errors.New("document repository does not exist")

// Content is the snapshot committed for each save.
type Content struct {
	Title       string          `json:"title"`
	ContentRich json.RawMessage `json:"contentRich,omitempty"`
}

// Author identifies who made a commit.
type Author struct {
	Name  string
	Email string
}

type Service struct {
	baseDir string
	now     func() time.Time
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{baseDir: baseDir, now: time.Now, locks: map[string]*sync.Mutex{}}
}

// withRepo runs fn while holding the document's lock. With create set a
// missing repository is initialised first.
func (s *Service) withRepo(documentID string, create bool, fn func(*git.Repository) error) error {
	s.mu.Lock()
	lock, ok := s.locks[documentID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[documentID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(documentID)
	repo, err := git.PlainOpen(path)
	switch {
	case errors.Is(err, git.ErrRepositoryNotExists) && create:
		if repo, err = initRepo(path); err != nil {
			return err
		}
	case errors.Is(err, git.ErrRepositoryNotExists):
		return ErrNoRepository
	case err != nil:
		return fmt.Errorf("open repo: %w", err)
	}
	return fn(repo)
}

func initRepo(path string) (*git.Repository, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, true)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, mainRef)); err != nil {
		return nil, fmt.Errorf("point HEAD at main: %w", err)
	}
	return repo, nil
}

// Commit writes content as the new head of the document. When content
// equals the head snapshot no commit is made and the head is returned.
func (s *Service) Commit(documentID string, content Content, author Author, message string) (store.CommitInfo, error) {
	var info store.CommitInfo
	err := s.withRepo(documentID, true, func(repo *git.Repository) error {
		var parents []plumbing.Hash
		if head, err := headCommit(repo); err == nil {
			if current, err := readContent(head); err == nil && !HasChanges(current, content) {
				info = toCommitInfo(head)
				return nil
			}
			parents = []plumbing.Hash{head.Hash}
		} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return err
		}

		commit, err := s.writeCommit(repo, content, author, message, parents)
		if err != nil {
			return err
		}
		info = toCommitInfo(commit)
		return nil
	})
	return info, err
}

// writeCommit stores blob, tree and commit objects, then advances main.
func (s *Service) writeCommit(repo *git.Repository, content Content, author Author, message string, parents []plumbing.Hash) (*object.Commit, error) {
	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}
	blob := repo.Storer.NewEncodedObject()
	blob.SetType(plumbing.BlobObject)
	w, err := blob.Writer()
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	if _, err := w.Write(append(payload, '\n')); err != nil {
		w.Close()
		return nil, fmt.Errorf("write blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close blob: %w", err)
	}
	blobHash, err := repo.Storer.SetEncodedObject(blob)
	if err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	tree := &object.Tree{Entries: []object.TreeEntry{{Name: contentFile, Mode: filemode.Regular, Hash: blobHash}}}
	treeHash, err := storeObject(repo, tree)
	if err != nil {
		return nil, fmt.Errorf("store tree: %w", err)
	}

	sig := signature(author, s.now())
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     treeHash,
		ParentHashes: parents,
	}
	commitHash, err := storeObject(repo, commit)
	if err != nil {
		return nil, fmt.Errorf("store commit: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(mainRef, commitHash)); err != nil {
		return nil, fmt.Errorf("advance main: %w", err)
	}
	return repo.CommitObject(commitHash)
}

type encodable interface {
	Encode(plumbing.EncodedObject) error
}

func storeObject(repo *git.Repository, obj encodable) (plumbing.Hash, error) {
	encoded := repo.Storer.NewEncodedObject()
	if err := obj.Encode(encoded); err != nil {
		return plumbing.ZeroHash, err
	}
	return repo.Storer.SetEncodedObject(encoded)
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(mainRef, true)
	if err != nil {
		return nil, err
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	return commit, nil
}

func (s *Service) HeadContent(documentID string) (Content, store.CommitInfo, error) {
	var (
		content Content
		info    store.CommitInfo
	)
	err := s.withRepo(documentID, false, func(repo *git.Repository) error {
		head, err := headCommit(repo)
		if err != nil {
			return err
		}
		info = toCommitInfo(head)
		content, err = readContent(head)
		return err
	})
	return content, info, err
}

// ContentAt returns the snapshot stored in the given commit, short hash or
// tag.
func (s *Service) ContentAt(documentID, revision string) (Content, error) {
	var content Content
	err := s.withRepo(documentID, false, func(repo *git.Repository) error {
		hash, err := resolveHash(repo, revision)
		if err != nil {
			return err
		}
		commit, err := repo.CommitObject(hash)
		if err != nil {
			return fmt.Errorf("read commit %s: %w", revision, err)
		}
		content, err = readContent(commit)
		return err
	})
	return content, err
}

// History lists commits newest first. limit <= 0 means all. Unknown
// documents have an empty history.
func (s *Service) History(documentID string, limit int) ([]store.CommitInfo, error) {
	items := []store.CommitInfo{}
	err := s.withRepo(documentID, false, func(repo *git.Repository) error {
		head, err := headCommit(repo)
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		iter := object.NewCommitPreorderIter(head, nil, nil)
		defer iter.Close()
		err = iter.ForEach(func(c *object.Commit) error {
			if limit > 0 && len(items) == limit {
				return io.EOF
			}
			items = append(items, toCommitInfo(c))
			return nil
		})
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("walk history: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrNoRepository) {
		return items, nil
	}
	return items, err
}

// Tag creates an annotated tag on hash. An existing tag is left as is.
func (s *Service) Tag(documentID, hash, name string, author Author) error {
	return s.withRepo(documentID, false, func(repo *git.Repository) error {
		target, err := resolveHash(repo, hash)
		if err != nil {
			return err
		}
		tagger := signature(author, s.now())
		_, err = repo.CreateTag(TagName(name), target, &git.CreateTagOptions{
			Tagger:  &tagger,
			Message: name,
		})
		if err != nil && !errors.Is(err, git.ErrTagExists) {
			return fmt.Errorf("create tag: %w", err)
		}
		return nil
	})
}

// Remove deletes the document's repository.
func (s *Service) Remove(documentID string) error {
	s.mu.Lock()
	lock, ok := s.locks[documentID]
	delete(s.locks, documentID)
	s.mu.Unlock()
	if ok {
		lock.Lock()
		defer lock.Unlock()
	}
	if err := os.RemoveAll(s.repoPath(documentID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, filepath.Base(documentID)+".git")
}

// TagName turns a version label into a valid ref name.
func TagName(label string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r == ' ' || r == '/':
			return '-'
		case r == '-' || r == '_' || r == '.',
			r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return -1
		}
	}, strings.TrimSpace(label))
	if name = strings.Trim(name, ".-"); name == "" {
		return "version"
	}
	return name
}

func signature(author Author, when time.Time) object.Signature {
	sig := object.Signature{Name: author.Name, Email: author.Email, When: when}
	if sig.Name == "" {
		sig.Name = "Inkwell"
	}
	if sig.Email == "" {
		local := strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
				return r
			case r == ' ' || r == '-' || r == '_':
				return '.'
			default:
				return -1
			}
		}, sig.Name)
		if local == "" {
			local = "user"
		}
		sig.Email = local + "@users.inkwell.local"
	}
	return sig
}

func readContent(commit *object.Commit) (Content, error) {
	file, err := commit.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("find %s: %w", contentFile, err)
	}
	raw, err := file.Contents()
	if err != nil {
		return Content{}, fmt.Errorf("read %s: %w", contentFile, err)
	}
	var content Content
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		return Content{}, fmt.Errorf("decode %s: %w", contentFile, err)
	}
	return content, nil
}

// HasChanges compares titles and the editor trees ignoring key order and
// whitespace.
func HasChanges(from, to Content) bool {
	return from.Title != to.Title || !bytes.Equal(canonical(from.ContentRich), canonical(to.ContentRich))
}

func canonical(doc json.RawMessage) []byte {
	var parsed any
	if len(doc) == 0 || json.Unmarshal(doc, &parsed) != nil || parsed == nil {
		return nil
	}
	out, _ := json.Marshal(parsed)
	return out
}

func toCommitInfo(c *object.Commit) store.CommitInfo {
	hash := c.Hash.String()
	return store.CommitInfo{
		Hash:      hash,
		ShortHash: hash[:7],
		Message:   strings.TrimSpace(c.Message),
		Author:    c.Author.Name,
		Email:     c.Author.Email,
		CreatedAt: c.Author.When,
	}
}

func resolveHash(repo *git.Repository, revision string) (plumbing.Hash, error) {
	if plumbing.IsHash(revision) {
		return plumbing.NewHash(revision), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve revision %s: %w", revision, err)
	}
	return *resolved, nil
}
