package histview

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// EmptyTreeHash is the well known id of the tree with no entries.
var EmptyTreeHash = MustDecodeHashHex("4b825dc642cb6eb9a060e54bf8d69288fbee4904")

// GetHash computes the hash of the object without persisting it.
func GetHash(obj object.Object) (*plumbing.Hash, error) {
	o := &plumbing.MemoryObject{}
	if err := obj.Encode(o); err != nil {
		return nil, fmt.Errorf("failed to encode object: %w", err)
	}

	h := o.Hash()

	return &h, nil
}

// updateHashAndSave encodes the object into s. Writes are content
// addressed, so saving an already present object is a no-op.
func updateHashAndSave(ctx context.Context, obj object.Object, s storer.Storer) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	o := s.NewEncodedObject()
	if err := obj.Encode(o); err != nil {
		return fmt.Errorf("failed to encode object: %w", err)
	}

	if _, err := s.SetEncodedObject(o); err != nil {
		return fmt.Errorf("failed to store object: %w", err)
	}

	return nil
}

// copyObject copies a single object from one storer to another. It is a
// no-op when src and dst are the same store or the object already exists
// in dst.
func copyObject(ctx context.Context, h plumbing.Hash, typ plumbing.ObjectType, src, dst storer.Storer) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := dst.HasEncodedObject(h); err == nil {
		return nil
	}

	obj, err := src.EncodedObject(typ, h)
	if err != nil {
		return fmt.Errorf("failed to read object %s: %w", h, err)
	}

	if _, err := dst.SetEncodedObject(obj); err != nil {
		return fmt.Errorf("failed to copy object %s: %w", h, err)
	}

	return nil
}

// copyTree copies the tree at h and everything reachable from it into dst.
// Subtrees already present in dst are skipped, which keeps the copy
// proportional to what dst is missing.
func copyTree(ctx context.Context, h plumbing.Hash, src, dst storer.Storer) error {
	if h.IsZero() {
		return nil
	}
	if err := dst.HasEncodedObject(h); err == nil {
		return nil
	}

	tree, err := object.GetTree(src, h)
	if err != nil {
		return fmt.Errorf("failed to read tree %s: %w", h, err)
	}

	for _, e := range tree.Entries {
		switch {
		case e.Mode.IsFile():
			if err := copyObject(ctx, e.Hash, plumbing.BlobObject, src, dst); err != nil {
				return err
			}
		case e.Mode == filemode.Dir:
			if err := copyTree(ctx, e.Hash, src, dst); err != nil {
				return err
			}
		}
	}

	return copyObject(ctx, h, plumbing.TreeObject, src, dst)
}
