package histview

import (
	"github.com/go-git/go-git/v5/plumbing"
)

type empty = struct{}

// HashSet is simply map from [plumbing.Hash] to [empty]
type HashSet = map[plumbing.Hash]empty

// NewHashSet creates a new set of Hash
func NewHashSet(hashes ...plumbing.Hash) HashSet {
	result := make(map[plumbing.Hash]empty)

	for _, v := range hashes {
		result[v] = empty{}
	}

	return result
}
