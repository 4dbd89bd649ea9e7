package histview

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

var testAuthor = object.Signature{
	Name:  "Test Author",
	Email: "author@example.com",
	When:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
}

func writeBlob(t *testing.T, s storer.Storer, content string) plumbing.Hash {
	t.Helper()

	o := s.NewEncodedObject()
	o.SetType(plumbing.BlobObject)
	w, err := o.Writer()
	if err != nil {
		t.Fatalf("blob writer: %v", err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("blob write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("blob close: %v", err)
	}

	h, err := s.SetEncodedObject(o)
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}

	return h
}

// writeTree builds a tree from slash separated path to content pairs.
func writeTree(t *testing.T, s storer.Storer, files map[string]string) plumbing.Hash {
	t.Helper()

	b, err := newTreeBuilder(s, plumbing.ZeroHash)
	if err != nil {
		t.Fatalf("tree builder: %v", err)
	}

	for path, content := range files {
		blob := writeBlob(t, s, content)
		if err := b.put(strings.Split(path, "/"), filemode.Regular, blob); err != nil {
			t.Fatalf("put %s: %v", path, err)
		}
	}

	h, err := b.write(context.Background())
	if err != nil {
		t.Fatalf("tree write: %v", err)
	}

	return h
}

func writeCommit(t *testing.T, s storer.Storer, tree plumbing.Hash, msg string, parents ...plumbing.Hash) *object.Commit {
	t.Helper()

	c := &object.Commit{
		TreeHash:     tree,
		Author:       testAuthor,
		Committer:    testAuthor,
		Message:      msg,
		ParentHashes: parents,
	}

	h, err := GetHash(c)
	if err != nil {
		t.Fatalf("commit hash: %v", err)
	}
	c.Hash = *h

	if err := updateHashAndSave(context.Background(), c, s); err != nil {
		t.Fatalf("commit store: %v", err)
	}

	return getCommit(t, s, c.Hash)
}

// getCommit reloads the commit through the store so that parent lookups
// work on it.
func getCommit(t *testing.T, s storer.Storer, h plumbing.Hash) *object.Commit {
	t.Helper()

	c, err := object.GetCommit(s, h)
	if err != nil {
		t.Fatalf("get commit %s: %v", h, err)
	}

	return c
}

// treeFiles flattens the tree at h into slash separated path to content
// pairs.
func treeFiles(t *testing.T, s storer.Storer, h plumbing.Hash) map[string]string {
	t.Helper()

	result := make(map[string]string)
	if h.IsZero() {
		return result
	}

	tree, err := object.GetTree(s, h)
	if err != nil {
		t.Fatalf("get tree %s: %v", h, err)
	}

	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()

	for {
		name, entry, err := walker.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("tree walk: %v", err)
		}
		if !entry.Mode.IsFile() {
			continue
		}

		blob, err := object.GetBlob(s, entry.Hash)
		if err != nil {
			t.Fatalf("get blob %s: %v", entry.Hash, err)
		}
		r, err := blob.Reader()
		if err != nil {
			t.Fatalf("blob reader: %v", err)
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			t.Fatalf("blob read: %v", err)
		}

		result[name] = string(data)
	}

	return result
}

// historyMessages returns the commit messages reachable from head in
// deterministic parents first order.
func historyMessages(t *testing.T, head *object.Commit) []string {
	t.Helper()

	path, err := GetDFSPath(context.Background(), head, nil, 0)
	if err != nil {
		t.Fatalf("dfs: %v", err)
	}

	msgs := make([]string, 0, len(path))
	for _, c := range path {
		msgs = append(msgs, c.Message)
	}

	return msgs
}

func mustParse(t *testing.T, spec string) *Filter {
	t.Helper()

	f, err := ParseFilter(spec)
	if err != nil {
		t.Fatalf("parse %q: %v", spec, err)
	}

	return f
}
