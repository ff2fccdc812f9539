package fop

import (
	"context"
	"time"
)

// SchemeTrash addresses items in the trash.
const SchemeTrash = "trash"

// TrashedItem is the metadata kept for one trashed entry.
type TrashedItem struct {
	URL         URL
	Name        string
	OriginalURL URL
	DeletedAt   time.Time
}

// Trasher moves entries into the trash and tracks where they came from.
type Trasher interface {
	// Trash moves u into the trash and returns its trash URL.
	Trash(ctx context.Context, u URL) (URL, error)
	// Lookup returns the metadata of a trash URL.
	Lookup(ctx context.Context, u URL) (*TrashedItem, error)
	// Forget drops the metadata of an item that left the trash.
	Forget(ctx context.Context, u URL) error
	// Root is the trash URL listing every trashed item.
	Root() URL
}
