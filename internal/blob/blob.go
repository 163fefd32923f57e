// Package blob stores immutable chapter snapshots. Stores have no transactions
// and no atomic multi-key writes.
package blob

import (
	"context"
	"fmt"
)

type Store interface {
	// Get returns the object under key; ok is false when it does not exist.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Put(ctx context.Context, key string, data []byte) error
	// List returns every key starting with prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// TextKey is the key of the raw text of snapshot n of chapter title.
func TextKey(title string, n int) string {
	return fmt.Sprintf("%s:%d", title, n)
}

// HTMLKey is the key of the rendered form of snapshot n of chapter title.
func HTMLKey(title string, n int) string {
	return TextKey(title, n) + ".html"
}
