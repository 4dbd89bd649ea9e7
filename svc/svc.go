// svc hosts the view resolution service. It owns the configured
// repositories, their rewrite caches, and the dispatch rules that keep
// concurrent resolutions of the same view from duplicating traversal work.
package svc

import (
	"go.etcd.io/bbolt"
	"golang.org/x/sync/singleflight"
)

type Svc struct {
	// config of the server.
	config *Config

	// db of the process
	db        *bbolt.DB
	tmpDbPath string

	repos map[string]*repo

	// flight coalesces concurrent resolutions of the same view key.
	flight singleflight.Group

	// idmutex serializes ref writes per key, see idlock.go.
	idmutex chan map[string]*waitingChan
}

func New(cfg *Config) (*Svc, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	svc := &Svc{
		config:  cfg,
		repos:   make(map[string]*repo),
		idmutex: make(chan map[string]*waitingChan, 1),
	}
	svc.idmutex <- make(map[string]*waitingChan)

	if err := svc.setupDb(); err != nil {
		return nil, err
	}

	if err := svc.setupRepos(); err != nil {
		svc.closeDb()
		return nil, err
	}

	return svc, nil
}

func (s *Svc) Close() error {
	return s.closeDb()
}
