package histview

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

var ErrEmptyToParents = errors.New("target commits is empty")

// ExpandCommit takes the changes between filteredOrig and filteredNew and
// reapplies them at the corresponding paths of target's unfiltered tree,
// producing a new commit in targetStorer with target as its parent. This
// is the push path: an edit made against a view becomes an edit of the
// real history.
//
// The operation fails with [*ConflictError] when the filter is not
// invertible for a touched path: the path cannot be attributed to a source
// location, or the filter's forward direction would never have produced
// it.
func ExpandCommit(
	ctx context.Context,
	viewStorer storer.Storer,
	filteredOrig *object.Commit,
	filteredNew *object.Commit,
	target *object.Commit,
	targetStorer storer.Storer,
	f *Filter,
) (*object.Commit, error) {
	return ExpandCommitMultiParents(ctx, viewStorer, filteredOrig, filteredNew, []*object.Commit{target}, targetStorer, f)
}

// ExpandCommitMultiParents is [ExpandCommit] with multiple parents. The
// first parent anchors the edit.
func ExpandCommitMultiParents(
	ctx context.Context,
	viewStorer storer.Storer,
	filteredOrig *object.Commit,
	filteredNew *object.Commit,
	parents []*object.Commit,
	targetStorer storer.Storer,
	f *Filter,
) (*object.Commit, error) {
	if len(parents) == 0 {
		return nil, ErrEmptyToParents
	}

	f = f.Normalize()

	edits, err := treeDelta(ctx, viewStorer, filteredOrig.TreeHash, filteredNew.TreeHash)
	if err != nil {
		return nil, errorf(err, "failed to compute filtered tree delta: %w", err)
	}

	builder, err := newTreeBuilder(targetStorer, parents[0].TreeHash)
	if err != nil {
		return nil, err
	}

	for _, edit := range edits {
		spath, err := inversePath(f, edit.path)
		if err != nil {
			return nil, err
		}
		if err := checkRoundTrip(f, spath, edit.path); err != nil {
			return nil, err
		}

		if edit.del {
			if err := checkDelete(f, edit.path); err != nil {
				return nil, err
			}
			if err := builder.remove(spath); err != nil {
				return nil, err
			}
			continue
		}

		if err := copyObject(ctx, edit.hash, plumbing.BlobObject, viewStorer, targetStorer); err != nil {
			return nil, err
		}
		if err := builder.put(spath, edit.mode, edit.hash); err != nil {
			return nil, err
		}
	}

	newtree, err := builder.write(ctx)
	if err != nil {
		return nil, errorf(err, "failed to build expanded tree: %w", err)
	}
	if newtree.IsZero() {
		logger.Warn("expanded tree is empty",
			"filtered-new-commit", filteredNew.Hash,
			"filtered-orig-commit", filteredOrig.Hash,
			"target", parents[0].Hash)
		if err := updateHashAndSave(ctx, &object.Tree{}, targetStorer); err != nil {
			return nil, errorf(err, "failed to save empty tree: %w", err)
		}
		newtree = EmptyTreeHash
	}

	newtarget := &object.Commit{
		TreeHash:  newtree,
		Author:    filteredNew.Author,
		Committer: filteredNew.Committer,
		Message:   filteredNew.Message,
	}
	for _, p := range parents {
		newtarget.ParentHashes = append(newtarget.ParentHashes, p.Hash)
	}

	h, err := GetHash(newtarget)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain hash for expanded commit: %w", err)
	}
	newtarget.Hash = *h

	if err := updateHashAndSave(ctx, newtarget, targetStorer); err != nil {
		return nil, errorf(err, "failed to save expanded commit: %w", err)
	}

	// reload through the store, a hand built commit cannot resolve its
	// parents
	saved, err := object.GetCommit(targetStorer, newtarget.Hash)
	if err != nil {
		return nil, fmt.Errorf("failed to reload expanded commit %s: %w", newtarget.Hash, err)
	}

	return saved, nil
}

// PathCheckResult collects the conflicts found when checking a filtered
// tree delta against a filter.
type PathCheckResult struct {
	Conflicts []*ConflictError
}

func (r *PathCheckResult) ErrorSlice() []error {
	if r == nil || len(r.Conflicts) == 0 {
		return nil
	}

	errs := make([]error, 0, len(r.Conflicts))
	for _, c := range r.Conflicts {
		errs = append(errs, c)
	}

	return errs
}

func (r *PathCheckResult) ToError() error {
	errs := r.ErrorSlice()
	if len(errs) == 0 {
		return nil
	}

	return errors.Join(errs...)
}

// CheckTreeDeltaAgainstFilter verifies that every path changed between the
// two filtered trees can be mapped back through the filter, reporting all
// offending paths instead of stopping at the first. It performs no writes;
// the push path uses it to reject a whole batch before expanding anything.
func CheckTreeDeltaAgainstFilter(
	ctx context.Context,
	f *Filter,
	orig, edited plumbing.Hash,
	s storer.Storer,
) (*PathCheckResult, error) {
	f = f.Normalize()

	edits, err := treeDelta(ctx, s, orig, edited)
	if err != nil {
		return nil, errorf(err, "failed to compute filtered tree delta: %w", err)
	}

	result := &PathCheckResult{}

	for _, edit := range edits {
		spath, err := inversePath(f, edit.path)
		if err == nil {
			err = checkRoundTrip(f, spath, edit.path)
		}
		if err == nil && edit.del {
			err = checkDelete(f, edit.path)
		}
		if err != nil {
			var conflict *ConflictError
			if errors.As(err, &conflict) {
				result.Conflicts = append(result.Conflicts, conflict)
				continue
			}
			return nil, err
		}
	}

	return result, nil
}

// treeEdit is one blob level change between two trees.
type treeEdit struct {
	path []string
	mode filemode.FileMode
	hash plumbing.Hash
	del  bool
}

// treeDelta computes the blob level edits turning the tree at a into the
// tree at b. Directory differences expand to per blob edits so that every
// touched path can be mapped through a filter individually.
func treeDelta(ctx context.Context, s storer.Storer, a, b plumbing.Hash) ([]treeEdit, error) {
	var edits []treeEdit
	if err := diffTrees(ctx, s, a, b, nil, &edits); err != nil {
		return nil, err
	}

	return edits, nil
}

func treeEntryMap(s storer.Storer, h plumbing.Hash) (map[string]object.TreeEntry, []string, error) {
	entries := make(map[string]object.TreeEntry)
	var names []string

	if h.IsZero() || h == EmptyTreeHash {
		return entries, names, nil
	}

	tree, err := object.GetTree(s, h)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read tree %s: %w", h, err)
	}

	for _, e := range tree.Entries {
		entries[e.Name] = e
		names = append(names, e.Name)
	}

	return entries, names, nil
}

func diffTrees(ctx context.Context, s storer.Storer, a, b plumbing.Hash, prefix []string, edits *[]treeEdit) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if a == b {
		return nil
	}

	amap, anames, err := treeEntryMap(s, a)
	if err != nil {
		return err
	}
	bmap, bnames, err := treeEntryMap(s, b)
	if err != nil {
		return err
	}

	for _, name := range anames {
		ae := amap[name]
		path := childPath(prefix, name)
		be, inb := bmap[name]

		switch {
		case !inb:
			if err := emitAll(ctx, s, ae, path, true, edits); err != nil {
				return err
			}
		case ae.Mode == filemode.Dir && be.Mode == filemode.Dir:
			if err := diffTrees(ctx, s, ae.Hash, be.Hash, path, edits); err != nil {
				return err
			}
		case ae.Mode == filemode.Dir || be.Mode == filemode.Dir:
			// type change: delete one side, add the other
			if err := emitAll(ctx, s, ae, path, true, edits); err != nil {
				return err
			}
			if err := emitAll(ctx, s, be, path, false, edits); err != nil {
				return err
			}
		case ae.Hash != be.Hash || ae.Mode != be.Mode:
			if err := emitAll(ctx, s, be, path, false, edits); err != nil {
				return err
			}
		}
	}

	for _, name := range bnames {
		if _, ina := amap[name]; ina {
			continue
		}
		if err := emitAll(ctx, s, bmap[name], childPath(prefix, name), false, edits); err != nil {
			return err
		}
	}

	return nil
}

// emitAll emits blob edits for an entry: a single edit for a blob, one per
// reachable blob for a directory. Submodule entries are skipped.
func emitAll(ctx context.Context, s storer.Storer, e object.TreeEntry, path []string, del bool, edits *[]treeEdit) error {
	switch {
	case e.Mode.IsFile():
		*edits = append(*edits, treeEdit{path: path, mode: e.Mode, hash: e.Hash, del: del})
		return nil
	case e.Mode != filemode.Dir:
		return nil
	}

	tree, err := object.GetTree(s, e.Hash)
	if err != nil {
		return fmt.Errorf("failed to read tree %s: %w", e.Hash, err)
	}

	for _, child := range tree.Entries {
		if err := emitAll(ctx, s, child, childPath(path, child.Name), del, edits); err != nil {
			return err
		}
	}

	return nil
}

func childPath(prefix []string, name string) []string {
	return append(append([]string{}, prefix...), name)
}

// inversePath maps a path of the filtered tree back to the path of the
// unfiltered tree the filter read it from.
func inversePath(f *Filter, path []string) ([]string, error) {
	switch f.Op {
	case OpNop:
		return path, nil

	case OpSubdir:
		return append(append([]string{}, f.Path...), path...), nil

	case OpPrefix:
		rest, ok := stripPathPrefix(path, f.Path)
		if !ok {
			return nil, &ConflictError{
				Path:   strings.Join(path, "/"),
				Reason: fmt.Sprintf("path is outside the %q prefix", strings.Join(f.Path, "/")),
			}
		}
		return rest, nil

	case OpGlob:
		match, err := doublestar.Match(f.Pattern, strings.Join(path, "/"))
		if err != nil {
			return nil, fmt.Errorf("bad glob pattern %q: %w", f.Pattern, err)
		}
		if !match {
			return nil, &ConflictError{
				Path:   strings.Join(path, "/"),
				Reason: fmt.Sprintf("path does not match the %q pattern", f.Pattern),
			}
		}
		return path, nil

	case OpChain:
		cur := path
		for i := len(f.Filters) - 1; i >= 0; i-- {
			var err error
			cur, err = inversePath(f.Filters[i], cur)
			if err != nil {
				return nil, err
			}
		}
		return cur, nil

	case OpCombine:
		// mirror of the forward collision rule: the content at a path
		// belongs to the last branch that can produce it
		for i := len(f.Branches) - 1; i >= 0; i-- {
			rest, ok := stripPathPrefix(path, f.Branches[i].Prefix)
			if !ok {
				continue
			}
			return inversePath(f.Branches[i].Filter, rest)
		}
		return nil, &ConflictError{
			Path:   strings.Join(path, "/"),
			Reason: "path is not under any combine branch prefix",
		}

	case OpMove:
		rest, ok := stripPathPrefix(path, f.Dst)
		if !ok {
			return nil, &ConflictError{
				Path:   strings.Join(path, "/"),
				Reason: fmt.Sprintf("path is outside the %q prefix", strings.Join(f.Dst, "/")),
			}
		}
		return append(append([]string{}, f.Src...), rest...), nil

	case OpSquash:
		return nil, &ConflictError{
			Path:   strings.Join(path, "/"),
			Reason: "squashed history is not invertible",
		}
	}

	return nil, fmt.Errorf("unknown filter op %d", f.Op)
}

// inverseCandidates returns every source path the filter could have read
// the given filtered path from. [inversePath] picks the attributed one;
// overlapping combine branches contribute further candidates.
func inverseCandidates(f *Filter, path []string) [][]string {
	switch f.Op {
	case OpNop:
		return [][]string{path}

	case OpSubdir:
		return [][]string{append(append([]string{}, f.Path...), path...)}

	case OpPrefix:
		rest, ok := stripPathPrefix(path, f.Path)
		if !ok {
			return nil
		}
		return [][]string{rest}

	case OpGlob:
		match, err := doublestar.Match(f.Pattern, strings.Join(path, "/"))
		if err != nil || !match {
			return nil
		}
		return [][]string{path}

	case OpChain:
		candidates := [][]string{path}
		for i := len(f.Filters) - 1; i >= 0; i-- {
			var next [][]string
			for _, c := range candidates {
				next = append(next, inverseCandidates(f.Filters[i], c)...)
			}
			candidates = next
		}
		return candidates

	case OpCombine:
		var candidates [][]string
		for _, br := range f.Branches {
			rest, ok := stripPathPrefix(path, br.Prefix)
			if !ok {
				continue
			}
			candidates = append(candidates, inverseCandidates(br.Filter, rest)...)
		}
		return candidates

	case OpMove:
		rest, ok := stripPathPrefix(path, f.Dst)
		if !ok {
			return nil
		}
		return [][]string{append(append([]string{}, f.Src...), rest...)}
	}

	return nil
}

// checkDelete rejects a deletion at a filtered path more than one source
// path can produce. Removing only the attributed source would re-expose
// another candidate's content in the view, so the pushed deletion cannot
// round trip.
func checkDelete(f *Filter, vpath []string) error {
	sources := make(map[string]empty)
	for _, candidate := range inverseCandidates(f, vpath) {
		mapped, ok := forwardPath(f, candidate)
		if !ok || !pathEqual(mapped, vpath) {
			continue
		}
		sources[strings.Join(candidate, "/")] = empty{}
	}

	if len(sources) > 1 {
		return &ConflictError{
			Path:   strings.Join(vpath, "/"),
			Reason: fmt.Sprintf("deletion is ambiguous, %d source paths produce this path", len(sources)),
		}
	}

	return nil
}

// forwardPath maps an unfiltered path to the path the filter's forward
// direction places it at, or reports that the filter never produces it.
func forwardPath(f *Filter, path []string) ([]string, bool) {
	switch f.Op {
	case OpNop, OpSquash:
		return path, true

	case OpSubdir:
		return stripPathPrefix(path, f.Path)

	case OpPrefix:
		return append(append([]string{}, f.Path...), path...), true

	case OpGlob:
		match, err := doublestar.Match(f.Pattern, strings.Join(path, "/"))
		if err != nil || !match {
			return nil, false
		}
		return path, true

	case OpChain:
		cur := path
		for _, c := range f.Filters {
			var ok bool
			cur, ok = forwardPath(c, cur)
			if !ok {
				return nil, false
			}
		}
		return cur, true

	case OpCombine:
		// later branches shadow earlier ones
		for i := len(f.Branches) - 1; i >= 0; i-- {
			mapped, ok := forwardPath(f.Branches[i].Filter, path)
			if !ok {
				continue
			}
			return append(append([]string{}, f.Branches[i].Prefix...), mapped...), true
		}
		return nil, false

	case OpMove:
		rest, ok := stripPathPrefix(path, f.Src)
		if !ok {
			return nil, false
		}
		return append(append([]string{}, f.Dst...), rest...), true
	}

	return nil, false
}

// checkRoundTrip verifies that the forward direction of the filter maps
// the reconstructed source path back to the edited filtered path. A
// mismatch means the attribution is ambiguous, e.g. a later combine branch
// shadows the path.
func checkRoundTrip(f *Filter, spath, vpath []string) error {
	mapped, ok := forwardPath(f, spath)
	if !ok {
		return &ConflictError{
			Path:   strings.Join(vpath, "/"),
			Reason: "filter's forward direction would never produce this path",
		}
	}
	if !pathEqual(mapped, vpath) {
		return &ConflictError{
			Path:   strings.Join(vpath, "/"),
			Reason: fmt.Sprintf("source path %q maps to %q instead", strings.Join(spath, "/"), strings.Join(mapped, "/")),
		}
	}

	return nil
}

func stripPathPrefix(path, prefix []string) ([]string, bool) {
	if len(path) < len(prefix) {
		return nil, false
	}
	for i, seg := range prefix {
		if path[i] != seg {
			return nil, false
		}
	}

	return path[len(prefix):], true
}

func pathEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
