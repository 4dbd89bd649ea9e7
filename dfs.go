package histview

import (
	"context"
	"fmt"
	"math"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

type dfsBuilderNode struct {
	data       *object.Commit
	nparent    int
	nextvisit  int
	generation int
}

type dfsBuilder struct {
	seen  map[plumbing.Hash]empty
	stack []*dfsBuilderNode
}

func newDFSBuilder() *dfsBuilder {
	return &dfsBuilder{
		stack: make([]*dfsBuilderNode, 0),
		seen:  make(map[plumbing.Hash]empty),
	}
}

func (gb *dfsBuilder) add(v *object.Commit, generation int) {
	hash := v.Hash
	if _, seen := gb.seen[hash]; seen {
		return
	}

	gb.seen[hash] = empty{}
	gb.stack = append(gb.stack, &dfsBuilderNode{
		data:       v,
		nparent:    v.NumParents(),
		nextvisit:  0,
		generation: generation,
	})
}

func (gb *dfsBuilder) pop() error {
	if len(gb.stack) == 0 {
		return fmt.Errorf("failed to pop empty stack")
	}

	gb.stack = gb.stack[:len(gb.stack)-1]

	return nil
}

func (gb *dfsBuilder) top() *dfsBuilderNode {
	if len(gb.stack) == 0 {
		return nil
	}

	return gb.stack[len(gb.stack)-1]
}

// DFSStopFunc decides whether the traversal should treat the commit as a
// boundary. Boundary commits are neither descended into nor included in
// the returned path.
type DFSStopFunc func(*object.Commit) (bool, error)

// StopAt returns a [DFSStopFunc] bounding the traversal at the given set
// of commits.
func StopAt(roots HashSet) DFSStopFunc {
	return func(c *object.Commit) (bool, error) {
		_, found := roots[c.Hash]
		return found, nil
	}
}

// GetDFSPath gets a deterministic depth first search path from a head
// commit, with the head commit as the last element of the returned slice
// and parents always before their children. The search visits the first
// parent, then the second, and so on, so commits on the first parent chain
// come first.
//
// stop can be nil. Max generation can be turned off by setting it to any
// value that is 0 or negative. The explicit stack bounds the traversal on
// long linear histories where naive recursion would not.
func GetDFSPath(
	ctx context.Context,
	head *object.Commit,
	stop DFSStopFunc,
	maxGeneration int,
) ([]*object.Commit, error) {
	result := make([]*object.Commit, 0)
	gb := newDFSBuilder()

	if stop != nil {
		boundary, err := stop(head)
		if err != nil {
			return nil, err
		}
		if boundary {
			return result, nil
		}
	}

	gb.add(head, 0)

	if maxGeneration <= 0 {
		maxGeneration = math.MaxInt
	}

addloop:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		current := gb.top()

		if current == nil {
			break addloop
		}

		switch {
		case current.nextvisit == current.nparent:
			result = append(result, current.data)
			if err := gb.pop(); err != nil {
				return nil, err
			}
		case current.generation >= maxGeneration-1:
			result = append(result, current.data)
			if err := gb.pop(); err != nil {
				return nil, err
			}
		default:
			p, err := current.data.Parent(current.nextvisit)
			if err != nil {
				return nil, fmt.Errorf(
					"cannot get parent %d for %s: %w",
					current.nextvisit,
					current.data.Hash.String(),
					err)
			}
			current.nextvisit += 1

			if stop != nil {
				boundary, err := stop(p)
				if err != nil {
					return nil, err
				}
				if boundary {
					continue addloop
				}
			}

			gb.add(p, current.generation+1)
		}
	}

	return result, nil
}
