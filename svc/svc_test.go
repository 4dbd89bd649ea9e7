package svc

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/stretchr/testify/require"
)

var testSig = object.Signature{
	Name:  "Test Author",
	Email: "author@example.com",
	When:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
}

func newTestSvc(t *testing.T, repos ...string) *Svc {
	t.Helper()

	cfg := &Config{Repos: make(map[string]*RepoConfig)}
	for _, name := range repos {
		cfg.Repos[name] = &RepoConfig{}
	}

	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.DeleteTmpDb() })

	return s
}

func testWriteBlob(t *testing.T, s storer.Storer, content string) plumbing.Hash {
	t.Helper()

	o := s.NewEncodedObject()
	o.SetType(plumbing.BlobObject)
	w, err := o.Writer()
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	h, err := s.SetEncodedObject(o)
	require.NoError(t, err)

	return h
}

// testWriteTree builds a tree from slash separated path to content pairs.
func testWriteTree(t *testing.T, s storer.Storer, files map[string]string) plumbing.Hash {
	t.Helper()

	blobs := make(map[string]plumbing.Hash)
	subdirs := make(map[string]map[string]string)

	for path, content := range files {
		if i := strings.IndexByte(path, '/'); i >= 0 {
			dir := path[:i]
			if subdirs[dir] == nil {
				subdirs[dir] = make(map[string]string)
			}
			subdirs[dir][path[i+1:]] = content
		} else {
			blobs[path] = testWriteBlob(t, s, content)
		}
	}

	entries := make([]object.TreeEntry, 0, len(blobs)+len(subdirs))
	for name, h := range blobs {
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Regular, Hash: h})
	}
	for name, sub := range subdirs {
		entries = append(entries, object.TreeEntry{
			Name: name, Mode: filemode.Dir, Hash: testWriteTree(t, s, sub),
		})
	}

	// git tree order: directory names sort with a trailing slash
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		an, bn := a.Name, b.Name
		if a.Mode == filemode.Dir {
			an += "/"
		}
		if b.Mode == filemode.Dir {
			bn += "/"
		}
		return an < bn
	})

	tree := &object.Tree{Entries: entries}
	o := s.NewEncodedObject()
	require.NoError(t, tree.Encode(o))
	h, err := s.SetEncodedObject(o)
	require.NoError(t, err)

	return h
}

func testWriteCommit(t *testing.T, s storer.Storer, tree plumbing.Hash, msg string, parents ...plumbing.Hash) plumbing.Hash {
	t.Helper()

	c := &object.Commit{
		TreeHash:     tree,
		Author:       testSig,
		Committer:    testSig,
		Message:      msg,
		ParentHashes: parents,
	}

	o := s.NewEncodedObject()
	require.NoError(t, c.Encode(o))
	h, err := s.SetEncodedObject(o)
	require.NoError(t, err)

	return h
}

// seedRepo commits the files and points ref at the commit.
func seedRepo(t *testing.T, s *Svc, repoName, ref string, files map[string]string) plumbing.Hash {
	t.Helper()

	rp, err := s.getRepo(repoName)
	require.NoError(t, err)

	tree := testWriteTree(t, rp.storage, files)
	commit := testWriteCommit(t, rp.storage, tree, "seed\n")
	require.NoError(t, rp.storage.SetReference(
		plumbing.NewHashReference(plumbing.ReferenceName(ref), commit)))

	return commit
}

// testTreeFiles flattens the tree of the commit at h into path to content
// pairs.
func testTreeFiles(t *testing.T, s storer.Storer, h plumbing.Hash) map[string]string {
	t.Helper()

	commit, err := object.GetCommit(s, h)
	require.NoError(t, err)
	tree, err := commit.Tree()
	require.NoError(t, err)

	result := make(map[string]string)

	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()

	for {
		name, entry, err := walker.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if !entry.Mode.IsFile() {
			continue
		}

		blob, err := object.GetBlob(s, entry.Hash)
		require.NoError(t, err)
		r, err := blob.Reader()
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		r.Close()
		require.NoError(t, err)

		result[name] = string(data)
	}

	return result
}

func testCtx(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	return ctx
}
