// histview exposes filtered, synthetic views of a git commit graph as if
// they were independent repositories, and maps edits made against a view
// back onto the real history.
//
// A view is described by a textual filter spec compiled with [ParseFilter]
// into a [Filter]. [FilterHistory] rewrites a commit DAG under a filter,
// [ExpandCommit] reapplies a filtered edit to the unfiltered history, and
// [Cache] memoizes rewritten commits inside the object store itself so that
// repeated and incremental rewrites stay cheap across process restarts.
//
// See [Filter] for the spec grammar.
package histview
