// Package pagestore is a transactional, copy-on-write, fixed-page-size
// key-value page store that commits atomically against a pluggable block
// backend.
//
// It is the storage core meant to sit underneath a B-tree, a document
// store, or any other higher layer that needs durable, versioned,
// page-addressed bytes without paying to materialize a backend page for
// every small write. Writes to individual pages are diffed into small
// binary patches and carried inline on a single "index page" until a
// configurable size budget forces the largest patch sets to spill out to
// real backend pages.
//
// Basic usage:
//
//	backend := pagestore.NewMemBackend(8192)
//	store, err := pagestore.NewStore(backend, pagestore.Config{
//	    PageSize:         8192,
//	    MaxIndexPageSize: 4096,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := store.RunTransaction(ctx, func(tx *pagestore.Txn) (any, error) {
//	    buf, err := tx.GetForUpdate(0)
//	    if err != nil {
//	        return nil, err
//	    }
//	    buf[0] = 42
//	    return nil, nil
//	}, nil)
package pagestore
