package histview

import (
	"encoding/hex"
	"strings"

	"lukechampine.com/blake3"
)

// FilterOp enumerates the operators of the filter algebra.
type FilterOp uint8

const (
	// OpNop is the identity filter, written ":/".
	OpNop FilterOp = iota
	// OpSubdir selects the subtree at a path, written ":/a/b".
	OpSubdir
	// OpPrefix grafts the whole input tree under a path, written ":prefix=a/b".
	OpPrefix
	// OpGlob keeps the blobs whose slash separated path matches a doublestar
	// pattern, written "::**/*.go".
	OpGlob
	// OpChain applies its children in sequence, written by juxtaposition.
	OpChain
	// OpCombine evaluates every branch against the same input tree and
	// grafts each result under the branch prefix, written
	// ":[a=:/x, b=:/y]". Later branches overwrite earlier ones at
	// identical paths.
	OpCombine
	// OpSquash collapses the history to a single commit, written ":squash".
	// It acts on history shape only and is an identity on trees.
	OpSquash
	// OpMove is parse time sugar for ":/src:prefix=dst", written
	// ":move=src:dst". Normalize expands it.
	OpMove
)

// CombineBranch is one branch of an [OpCombine] filter.
type CombineBranch struct {
	Prefix []string
	Filter *Filter
}

// Filter is a compiled filter spec: a tree of data carrying operator cases.
// Filters are pure; applying one never depends on mutable external state.
//
// The grammar, modeled after the spec language of history proxies:
//
//	:/a/b           select subtree at a/b
//	:prefix=a/b     move the tree under a/b
//	:move=src:dst   shorthand for :/src:prefix=dst
//	::**/*.go       keep blobs matching the pattern
//	:squash         collapse history to a single commit
//	:[a=:/x, b=:/y] combine filtered subtrees under prefixes
//
// Operators compose left to right by juxtaposition: ":/a:prefix=b" first
// selects a, then moves the result under b. Composition is associative but
// not commutative.
type Filter struct {
	Op       FilterOp
	Path     []string // OpSubdir, OpPrefix
	Pattern  string   // OpGlob
	Filters  []*Filter
	Branches []CombineBranch
	Src, Dst []string // OpMove
}

// FilterID is the canonical digest of a normalized filter, used as the
// filter component of cache keys. Two spellings that normalize to the same
// filter share an identity.
type FilterID [32]byte

func (id FilterID) Hex() string {
	return hex.EncodeToString(id[:])
}

// NopFilter returns the identity filter.
func NopFilter() *Filter {
	return &Filter{Op: OpNop}
}

// Normalize returns a canonical, semantically equal filter: nested chains
// are flattened, identity filters dropped, adjacent subdir and prefix
// selections merged, ":move" expanded, and ":squash" hoisted to the end of
// the top chain. The receiver is not modified.
func (f *Filter) Normalize() *Filter {
	squash := false
	parts := normalizeInto(f, nil, &squash)

	var result *Filter
	switch len(parts) {
	case 0:
		result = NopFilter()
	case 1:
		result = parts[0]
	default:
		result = &Filter{Op: OpChain, Filters: parts}
	}

	if !squash {
		return result
	}
	if result.Op == OpNop {
		return &Filter{Op: OpSquash}
	}
	if result.Op == OpChain {
		result.Filters = append(result.Filters, &Filter{Op: OpSquash})
		return result
	}

	return &Filter{Op: OpChain, Filters: []*Filter{result, {Op: OpSquash}}}
}

// normalizeInto appends the normalized chain elements of f to parts,
// merging with the previous element where possible. Squash nodes are
// stripped and recorded in *squash.
func normalizeInto(f *Filter, parts []*Filter, squash *bool) []*Filter {
	if f == nil {
		return parts
	}

	switch f.Op {
	case OpNop:
		return parts

	case OpSquash:
		*squash = true
		return parts

	case OpMove:
		parts = normalizeInto(&Filter{Op: OpSubdir, Path: f.Src}, parts, squash)
		return normalizeInto(&Filter{Op: OpPrefix, Path: f.Dst}, parts, squash)

	case OpChain:
		for _, c := range f.Filters {
			parts = normalizeInto(c, parts, squash)
		}
		return parts

	case OpSubdir:
		if len(f.Path) == 0 {
			return parts
		}
		if n := len(parts); n > 0 && parts[n-1].Op == OpSubdir {
			prev := parts[n-1]
			parts[n-1] = &Filter{
				Op:   OpSubdir,
				Path: append(append([]string{}, prev.Path...), f.Path...),
			}
			return parts
		}
		return append(parts, &Filter{Op: OpSubdir, Path: f.Path})

	case OpPrefix:
		if len(f.Path) == 0 {
			return parts
		}
		if n := len(parts); n > 0 && parts[n-1].Op == OpPrefix {
			// prefix=a then prefix=b nests as b/a.
			prev := parts[n-1]
			parts[n-1] = &Filter{
				Op:   OpPrefix,
				Path: append(append([]string{}, f.Path...), prev.Path...),
			}
			return parts
		}
		return append(parts, &Filter{Op: OpPrefix, Path: f.Path})

	case OpGlob:
		return append(parts, &Filter{Op: OpGlob, Pattern: f.Pattern})

	case OpCombine:
		branches := make([]CombineBranch, 0, len(f.Branches))
		for _, b := range f.Branches {
			branches = append(branches, CombineBranch{
				Prefix: b.Prefix,
				Filter: b.Filter.Normalize(),
			})
		}
		return append(parts, &Filter{Op: OpCombine, Branches: branches})
	}

	return parts
}

// String renders the filter in spec syntax. Rendering a normalized filter
// yields its canonical text.
func (f *Filter) String() string {
	if f == nil {
		return ":/"
	}

	var sb strings.Builder
	f.render(&sb)
	if sb.Len() == 0 {
		return ":/"
	}

	return sb.String()
}

func (f *Filter) render(sb *strings.Builder) {
	switch f.Op {
	case OpNop:
		sb.WriteString(":/")
	case OpSubdir:
		sb.WriteString(":/")
		sb.WriteString(strings.Join(f.Path, "/"))
	case OpPrefix:
		sb.WriteString(":prefix=")
		sb.WriteString(strings.Join(f.Path, "/"))
	case OpGlob:
		sb.WriteString("::")
		sb.WriteString(f.Pattern)
	case OpSquash:
		sb.WriteString(":squash")
	case OpMove:
		sb.WriteString(":move=")
		sb.WriteString(strings.Join(f.Src, "/"))
		sb.WriteString(":")
		sb.WriteString(strings.Join(f.Dst, "/"))
	case OpChain:
		for _, c := range f.Filters {
			c.render(sb)
		}
	case OpCombine:
		sb.WriteString(":[")
		for i, b := range f.Branches {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(strings.Join(b.Prefix, "/"))
			sb.WriteString("=")
			sb.WriteString(b.Filter.String())
		}
		sb.WriteString("]")
	}
}

// ID returns the filter identity: the digest of the canonical rendering of
// the normalized filter.
func (f *Filter) ID() FilterID {
	return FilterID(blake3.Sum256([]byte(f.Normalize().String())))
}

// splitSquash strips squash operators from an already normalized filter,
// returning the tree level remainder and whether a squash was present.
func (f *Filter) splitSquash() (*Filter, bool) {
	switch f.Op {
	case OpSquash:
		return NopFilter(), true
	case OpChain:
		rest := make([]*Filter, 0, len(f.Filters))
		squash := false
		for _, c := range f.Filters {
			if c.Op == OpSquash {
				squash = true
				continue
			}
			rest = append(rest, c)
		}
		switch len(rest) {
		case 0:
			return NopFilter(), squash
		case 1:
			return rest[0], squash
		default:
			return &Filter{Op: OpChain, Filters: rest}, squash
		}
	default:
		return f, false
	}
}
