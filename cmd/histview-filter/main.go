package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/spf13/cobra"

	"github.com/fardream/histview"
	"github.com/fardream/histview/cmd"
	"github.com/fardream/histview/svc"
)

func main() {
	newRootCmd().Execute()
}

type rootCmd struct {
	*cobra.Command

	repoPath string
	reverse  bool
	squash   bool
}

func newRootCmd() *rootCmd {
	c := &rootCmd{
		Command: &cobra.Command{
			Use:   "histview-filter <spec> <from-ref> <to-ref>",
			Short: "rewrite the history of a ref through a filter",
			Long: `rewrite the history reachable from from-ref through the filter spec and
point to-ref at the result. With --reverse, take the commit at to-ref as an
edit of the filtered history and expand it back onto from-ref.`,
			Args: cobra.ExactArgs(3),
		},
	}

	c.Flags().StringVarP(&c.repoPath, "repo", "r", ".", "path to the git directory")
	c.Flags().BoolVar(&c.reverse, "reverse", c.reverse, "expand the edits at to-ref back onto from-ref")
	c.Flags().BoolVar(&c.squash, "squash", c.squash, "collapse the filtered history to a single commit")

	c.Run = func(_ *cobra.Command, args []string) {
		c.run(args)
	}

	return c
}

func (c *rootCmd) run(args []string) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	spec, fromref, toref := args[0], args[1], args[2]
	if c.squash {
		spec += ":squash"
	}

	f := cmd.GetOrPanic(histview.ParseFilter(spec))
	storage := cmd.GetOrPanic(svc.OpenRepoStorage(c.repoPath))

	from := cmd.GetOrPanic(storage.Reference(plumbing.ReferenceName(fromref)))
	head := cmd.GetOrPanic(object.GetCommit(storage, from.Hash()))

	cache := histview.NewCache(storage)

	if !c.reverse {
		newhead := cmd.GetOrPanic(histview.FilterHistory(ctx, head, storage, storage, f, cache))
		if newhead == nil {
			fmt.Fprintln(os.Stderr, "filter produced an empty history")
			os.Exit(1)
		}

		cmd.OrPanic(storage.SetReference(
			plumbing.NewHashReference(plumbing.ReferenceName(toref), newhead.Hash)))
		fmt.Println(newhead.Hash)

		return
	}

	to := cmd.GetOrPanic(storage.Reference(plumbing.ReferenceName(toref)))
	filteredNew := cmd.GetOrPanic(object.GetCommit(storage, to.Hash()))

	filteredOrig := cmd.GetOrPanic(histview.FilterHistory(ctx, head, storage, storage, f, cache))
	if filteredOrig == nil {
		fmt.Fprintln(os.Stderr, "from-ref has no image under the filter")
		os.Exit(1)
	}

	expanded := cmd.GetOrPanic(histview.ExpandCommit(
		ctx, storage, filteredOrig, filteredNew, head, storage, f))

	cmd.OrPanic(storage.SetReference(
		plumbing.NewHashReference(plumbing.ReferenceName(fromref), expanded.Hash)))
	fmt.Println(expanded.Hash)
}
