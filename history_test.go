package histview

import (
	"context"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/google/go-cmp/cmp"
)

// linearRepo builds commits c1..cN, each with the given full tree content,
// and returns the head.
func linearRepo(t *testing.T, s *memory.Storage, trees []map[string]string, msgs []string) *object.Commit {
	t.Helper()

	var head *object.Commit
	for i, files := range trees {
		th := writeTree(t, s, files)
		if head == nil {
			head = writeCommit(t, s, th, msgs[i])
		} else {
			head = writeCommit(t, s, th, msgs[i], head.Hash)
		}
	}

	return head
}

func TestFilterHistoryLinear(t *testing.T) {
	src := memory.NewStorage()
	dst := memory.NewStorage()

	head := linearRepo(t, src,
		[]map[string]string{
			{"a/x.txt": "1", "b/y.txt": "1"},
			{"a/x.txt": "1", "b/y.txt": "2"}, // touches only b, elided under :/a
			{"a/x.txt": "2", "b/y.txt": "2"},
		},
		[]string{"c1\n", "c2\n", "c3\n"})

	newhead, err := FilterHistory(context.Background(), head, src, dst, mustParse(t, ":/a"), nil)
	if err != nil {
		t.Fatalf("filter history: %v", err)
	}
	if newhead == nil {
		t.Fatal("expected a rewritten head, got nil")
	}

	msgs := historyMessages(t, newhead)
	if diff := cmp.Diff([]string{"c1\n", "c3\n"}, msgs); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}

	files := treeFiles(t, dst, newhead.TreeHash)
	if diff := cmp.Diff(map[string]string{"x.txt": "2"}, files); diff != "" {
		t.Errorf("head tree mismatch (-want +got):\n%s", diff)
	}
	if newhead.Author != head.Author || newhead.Message != head.Message {
		t.Error("rewritten head must carry the original metadata")
	}
}

func TestFilterHistoryEmpty(t *testing.T) {
	src := memory.NewStorage()
	dst := memory.NewStorage()

	head := linearRepo(t, src,
		[]map[string]string{{"a/x.txt": "1"}},
		[]string{"c1\n"})

	newhead, err := FilterHistory(context.Background(), head, src, dst, mustParse(t, ":/nope"), nil)
	if err != nil {
		t.Fatalf("filter history: %v", err)
	}
	if newhead != nil {
		t.Errorf("expected nil head for an all-empty history, got %s", newhead.Hash)
	}
}

func TestFilterHistoryRootedMidHistory(t *testing.T) {
	src := memory.NewStorage()
	dst := memory.NewStorage()

	// a/ appears only in the second commit, so the filtered history roots
	// there
	head := linearRepo(t, src,
		[]map[string]string{
			{"b/y.txt": "1"},
			{"a/x.txt": "1", "b/y.txt": "1"},
		},
		[]string{"c1\n", "c2\n"})

	newhead, err := FilterHistory(context.Background(), head, src, dst, mustParse(t, ":/a"), nil)
	if err != nil {
		t.Fatalf("filter history: %v", err)
	}
	if newhead == nil {
		t.Fatal("expected a rewritten head")
	}
	if newhead.NumParents() != 0 {
		t.Errorf("expected a parentless root, got %d parents", newhead.NumParents())
	}
	if newhead.Message != "c2\n" {
		t.Errorf("root message = %q, want %q", newhead.Message, "c2\n")
	}
}

func TestFilterHistoryMergeCollapses(t *testing.T) {
	src := memory.NewStorage()
	dst := memory.NewStorage()

	base := writeCommit(t, src, writeTree(t, src, map[string]string{
		"a/x.txt": "1", "b/y.txt": "1",
	}), "base\n")

	// side branch touches only b
	side := writeCommit(t, src, writeTree(t, src, map[string]string{
		"a/x.txt": "1", "b/y.txt": "2",
	}), "side\n", base.Hash)

	// mainline touches a
	main := writeCommit(t, src, writeTree(t, src, map[string]string{
		"a/x.txt": "2", "b/y.txt": "1",
	}), "main\n", base.Hash)

	merge := writeCommit(t, src, writeTree(t, src, map[string]string{
		"a/x.txt": "2", "b/y.txt": "2",
	}), "merge\n", main.Hash, side.Hash)

	newhead, err := FilterHistory(context.Background(), merge, src, dst, mustParse(t, ":/a"), nil)
	if err != nil {
		t.Fatalf("filter history: %v", err)
	}
	if newhead == nil {
		t.Fatal("expected a rewritten head")
	}

	// the merge brought nothing new under :/a beyond main, so it elides
	// onto main's rewrite; the side branch disappears entirely
	msgs := historyMessages(t, newhead)
	if diff := cmp.Diff([]string{"base\n", "main\n"}, msgs); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterHistoryMergeSurvives(t *testing.T) {
	src := memory.NewStorage()
	dst := memory.NewStorage()

	base := writeCommit(t, src, writeTree(t, src, map[string]string{
		"a/x.txt": "1",
	}), "base\n")

	side := writeCommit(t, src, writeTree(t, src, map[string]string{
		"a/x.txt": "1", "a/s.txt": "s",
	}), "side\n", base.Hash)

	main := writeCommit(t, src, writeTree(t, src, map[string]string{
		"a/x.txt": "2",
	}), "main\n", base.Hash)

	merge := writeCommit(t, src, writeTree(t, src, map[string]string{
		"a/x.txt": "2", "a/s.txt": "s",
	}), "merge\n", main.Hash, side.Hash)

	newhead, err := FilterHistory(context.Background(), merge, src, dst, mustParse(t, ":/a"), nil)
	if err != nil {
		t.Fatalf("filter history: %v", err)
	}
	if newhead == nil {
		t.Fatal("expected a rewritten head")
	}
	if newhead.NumParents() != 2 {
		t.Fatalf("expected the merge to survive with 2 parents, got %d", newhead.NumParents())
	}
	if newhead.Message != "merge\n" {
		t.Errorf("head message = %q, want %q", newhead.Message, "merge\n")
	}
}

func TestFilterHistorySquash(t *testing.T) {
	src := memory.NewStorage()
	dst := memory.NewStorage()

	head := linearRepo(t, src,
		[]map[string]string{
			{"a/x.txt": "1"},
			{"a/x.txt": "2"},
			{"a/x.txt": "3"},
		},
		[]string{"c1\n", "c2\n", "c3\n"})

	newhead, err := FilterHistory(context.Background(), head, src, dst, mustParse(t, ":/a:squash"), nil)
	if err != nil {
		t.Fatalf("filter history: %v", err)
	}
	if newhead == nil {
		t.Fatal("expected a rewritten head")
	}
	if newhead.NumParents() != 0 {
		t.Errorf("squashed head must be parentless, got %d parents", newhead.NumParents())
	}
	if newhead.Message != "c3\n" {
		t.Errorf("squashed head message = %q, want %q", newhead.Message, "c3\n")
	}

	files := treeFiles(t, dst, newhead.TreeHash)
	if diff := cmp.Diff(map[string]string{"x.txt": "3"}, files); diff != "" {
		t.Errorf("squashed tree mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterHistoryCacheResume(t *testing.T) {
	ctx := context.Background()
	src := memory.NewStorage()
	dst := memory.NewStorage()
	f := mustParse(t, ":/a")

	head1 := linearRepo(t, src,
		[]map[string]string{
			{"a/x.txt": "1"},
			{"a/x.txt": "2"},
		},
		[]string{"c1\n", "c2\n"})

	cache := NewCache(dst)

	first, err := FilterHistory(ctx, head1, src, dst, f, cache)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	// identical input resolves straight from the cache, without writing a
	// single new object
	objects := len(dst.Objects)
	again, err := FilterHistory(ctx, head1, src, dst, f, cache)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if again.Hash != first.Hash {
		t.Errorf("second run produced %s, want %s", again.Hash, first.Hash)
	}
	if len(dst.Objects) != objects {
		t.Errorf("full cache hit wrote %d new objects", len(dst.Objects)-objects)
	}

	// extend the history and rewrite incrementally
	th := writeTree(t, src, map[string]string{"a/x.txt": "3"})
	head2 := writeCommit(t, src, th, "c3\n", head1.Hash)

	extended, err := FilterHistory(ctx, head2, src, dst, f, cache)
	if err != nil {
		t.Fatalf("extended run: %v", err)
	}
	if extended.NumParents() != 1 {
		t.Fatalf("extended head parents = %d, want 1", extended.NumParents())
	}
	if extended.ParentHashes[0] != first.Hash {
		t.Errorf("extended head parent = %s, want the cached head %s",
			extended.ParentHashes[0], first.Hash)
	}
}

// A fresh Cache over the same store must observe entries persisted by a
// previous one.
func TestFilterHistoryCachePersists(t *testing.T) {
	ctx := context.Background()
	src := memory.NewStorage()
	dst := memory.NewStorage()
	f := mustParse(t, ":/a")

	head := linearRepo(t, src,
		[]map[string]string{{"a/x.txt": "1"}, {"a/x.txt": "2"}},
		[]string{"c1\n", "c2\n"})

	first, err := FilterHistory(ctx, head, src, dst, f, NewCache(dst))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	fresh := NewCache(dst)
	again, err := FilterHistory(ctx, head, src, dst, f, fresh)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if again.Hash != first.Hash {
		t.Errorf("second run produced %s, want %s", again.Hash, first.Hash)
	}

	frontier, err := fresh.Frontier(ctx, f.ID())
	if err != nil {
		t.Fatalf("frontier: %v", err)
	}
	if _, found := frontier[head.Hash]; !found {
		t.Error("frontier must contain the rewritten head's source commit")
	}
}

func TestFilterHistoryEmptyCommitsCached(t *testing.T) {
	ctx := context.Background()
	src := memory.NewStorage()
	dst := memory.NewStorage()
	f := mustParse(t, ":/nope").Normalize()

	head := linearRepo(t, src,
		[]map[string]string{{"a/x.txt": "1"}},
		[]string{"c1\n"})

	cache := NewCache(dst)

	newhead, err := FilterHistory(ctx, head, src, dst, f, cache)
	if err != nil {
		t.Fatalf("filter history: %v", err)
	}
	if newhead != nil {
		t.Fatalf("expected nil head, got %s", newhead.Hash)
	}

	v, found, err := cache.Get(f.ID(), head.Hash)
	if err != nil {
		t.Fatalf("cache get: %v", err)
	}
	if !found || v != EmptyTreeHash {
		t.Errorf("filtered-to-empty commit must cache as the empty tree marker, got (%s, %v)", v, found)
	}
}

func TestFilterCommitElision(t *testing.T) {
	ctx := context.Background()
	src := memory.NewStorage()
	dst := memory.NewStorage()

	t1 := writeTree(t, src, map[string]string{"a/x.txt": "1", "b/y.txt": "1"})
	c1 := writeCommit(t, src, t1, "c1\n")

	t2 := writeTree(t, src, map[string]string{"a/x.txt": "1", "b/y.txt": "2"})
	c2 := writeCommit(t, src, t2, "c2\n", c1.Hash)

	f := mustParse(t, ":/a")

	p1, isparent, err := FilterCommit(ctx, c1, nil, src, dst, f)
	if err != nil {
		t.Fatalf("filter c1: %v", err)
	}
	if isparent || p1 == nil {
		t.Fatal("c1 must produce a fresh commit")
	}

	p2, isparent, err := FilterCommit(ctx, c2, []*object.Commit{p1}, src, dst, f)
	if err != nil {
		t.Fatalf("filter c2: %v", err)
	}
	if !isparent {
		t.Error("c2 changes nothing under :/a and must elide onto its parent")
	}
	if p2 == nil || p2.Hash != p1.Hash {
		t.Errorf("elided commit must be the parent itself")
	}
}

// Rewritten commits come back bound to dst, so parent lookups on them
// work without a reload.
func TestFilterCommitParentLookup(t *testing.T) {
	ctx := context.Background()
	src := memory.NewStorage()
	dst := memory.NewStorage()

	c1 := writeCommit(t, src, writeTree(t, src, map[string]string{"a/x.txt": "1"}), "c1\n")
	c2 := writeCommit(t, src, writeTree(t, src, map[string]string{"a/x.txt": "2"}), "c2\n", c1.Hash)

	f := mustParse(t, ":/a")

	p1, _, err := FilterCommit(ctx, c1, nil, src, dst, f)
	if err != nil {
		t.Fatalf("filter c1: %v", err)
	}
	p2, _, err := FilterCommit(ctx, c2, []*object.Commit{p1}, src, dst, f)
	if err != nil {
		t.Fatalf("filter c2: %v", err)
	}

	parent, err := p2.Parent(0)
	if err != nil {
		t.Fatalf("parent lookup on rewritten commit: %v", err)
	}
	if parent.Hash != p1.Hash {
		t.Errorf("parent = %s, want %s", parent.Hash, p1.Hash)
	}
}

func TestGetDFSPathOrder(t *testing.T) {
	src := memory.NewStorage()

	head := linearRepo(t, src,
		[]map[string]string{
			{"f.txt": "1"},
			{"f.txt": "2"},
			{"f.txt": "3"},
		},
		[]string{"c1\n", "c2\n", "c3\n"})

	path, err := GetDFSPath(context.Background(), head, nil, 0)
	if err != nil {
		t.Fatalf("dfs: %v", err)
	}

	msgs := make([]string, 0, len(path))
	for _, c := range path {
		msgs = append(msgs, c.Message)
	}
	if diff := cmp.Diff([]string{"c1\n", "c2\n", "c3\n"}, msgs); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestGetDFSPathStop(t *testing.T) {
	src := memory.NewStorage()

	head := linearRepo(t, src,
		[]map[string]string{
			{"f.txt": "1"},
			{"f.txt": "2"},
			{"f.txt": "3"},
		},
		[]string{"c1\n", "c2\n", "c3\n"})

	boundary := head.ParentHashes[0]

	path, err := GetDFSPath(context.Background(), head, StopAt(NewHashSet(boundary)), 0)
	if err != nil {
		t.Fatalf("dfs: %v", err)
	}

	if len(path) != 1 || path[0].Hash != head.Hash {
		t.Errorf("expected only the head past the boundary, got %d commits", len(path))
	}

	var hashes []plumbing.Hash
	for _, c := range path {
		hashes = append(hashes, c.Hash)
	}
	if diff := cmp.Diff([]plumbing.Hash{head.Hash}, hashes); diff != "" {
		t.Errorf("path mismatch (-want +got):\n%s", diff)
	}
}
