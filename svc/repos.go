package svc

import (
	"fmt"

	"github.com/go-git/go-billy/v5/osfs"
	gitcache "github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/fardream/histview"
)

// repo is one configured repository: its object store and the rewrite
// cache persisted inside it.
type repo struct {
	name    string
	storage storer.Storer
	cache   *histview.Cache
}

// OpenRepoStorage opens the git object store at path, or an in-memory
// store when path is empty.
func OpenRepoStorage(path string) (storer.Storer, error) {
	if path == "" {
		return memory.NewStorage(), nil
	}

	return filesystem.NewStorage(osfs.New(path), gitcache.NewObjectLRUDefault()), nil
}

func (s *Svc) setupRepos() error {
	for name, cfg := range s.config.Repos {
		if name == "" {
			return ErrEmptyRepoName
		}

		path := ""
		if cfg != nil {
			path = cfg.Path
		}

		storage, err := OpenRepoStorage(path)
		if err != nil {
			return fmt.Errorf("failed to open repo %s: %w", name, err)
		}

		s.repos[name] = &repo{
			name:    name,
			storage: storage,
			cache:   histview.NewCache(storage),
		}
	}

	return nil
}

func (s *Svc) getRepo(name string) (*repo, error) {
	if name == "" {
		return nil, ErrEmptyRepoName
	}

	r, found := s.repos[name]
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRepo, name)
	}

	return r, nil
}
