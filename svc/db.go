package svc

import (
	"os"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// getFromDb returns the typed value stored under id, or nil when absent.
func getFromDb[
	T any](db *bbolt.DB, bucket []byte, id []byte,
	unmarshal func(data []byte, v *T) error,
) (*T, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	r := (*T)(nil)

	err := db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		v := b.Get(id)
		if v == nil {
			return nil
		}
		r = new(T)
		if err := unmarshal(v, r); err != nil {
			r = nil
			return err
		}

		return nil
	})

	return r, err
}

func putToDb[T any](db *bbolt.DB, bucket []byte, id []byte, v T, marshal func(v T) ([]byte, error)) error {
	if db == nil {
		return ErrNilDB
	}

	return db.Update(
		func(tx *bbolt.Tx) error {
			b, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return err
			}
			data, err := marshal(v)
			if err != nil {
				return err
			}
			return b.Put(id, data)
		})
}

// tempfile provides a temporary file, adopted from the example on [bbolt doc]
//
// [bbolt doc]: https://pkg.go.dev/go.etcd.io/bbolt#example-DB.Begin
func tempfile() (string, error) {
	f, err := os.CreateTemp("", "bolt-")
	if err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	if err := os.Remove(f.Name()); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func (s *Svc) setupDb() error {
	dbpath := s.config.DbPath
	var err error
	if dbpath == "" {
		dbpath, err = tempfile()
		if err != nil {
			return err
		}
		s.tmpDbPath = dbpath
		logger.Warn("missing db path, use tmp path", "path", dbpath)
	}

	db, err := bbolt.Open(dbpath, 0o600, nil)
	if err != nil {
		return err
	}

	s.db = db

	return nil
}

func (s *Svc) closeDb() error {
	if s.db == nil {
		return nil
	}

	if s.tmpDbPath != "" {
		logger.Warn("missing db path, used tmp path", "path", s.tmpDbPath)
	}

	return s.db.Close()
}

func (s *Svc) DeleteTmpDb() error {
	s.Close()
	if s.tmpDbPath == "" {
		return nil
	}
	return os.Remove(s.tmpDbPath)
}

const VIEWS_BUCKET = "views"

// ViewStat records the outcome of the latest resolution of a view.
type ViewStat struct {
	SourceCommit    string `msgpack:"source_commit"`
	ViewCommit      string `msgpack:"view_commit"`
	ResolveCount    int64  `msgpack:"resolve_count"`
	LastResolveUnix int64  `msgpack:"last_resolve_unix"`
}

func getViewStatFromDb(
	db *bbolt.DB,
	id []byte,
) (*ViewStat, error) {
	return getFromDb(
		db,
		[]byte(VIEWS_BUCKET),
		id,
		func(d []byte, v *ViewStat) error {
			return msgpack.Unmarshal(d, v)
		})
}

func putViewStatToDb(
	db *bbolt.DB,
	id []byte,
	v *ViewStat,
) error {
	return putToDb(
		db,
		[]byte(VIEWS_BUCKET),
		id,
		v,
		func(v *ViewStat) ([]byte, error) {
			return msgpack.Marshal(v)
		})
}

// ListViews returns the stats of every view this process has resolved,
// keyed by view id.
func (s *Svc) ListViews() (map[string]*ViewStat, error) {
	if s.db == nil {
		return nil, ErrNilDB
	}

	result := make(map[string]*ViewStat)

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(VIEWS_BUCKET))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			stat := &ViewStat{}
			if err := msgpack.Unmarshal(v, stat); err != nil {
				return err
			}
			result[string(k)] = stat
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
