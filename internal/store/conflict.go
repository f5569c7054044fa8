package store

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/carebridge/carelink/internal/asyncquery"
	"github.com/carebridge/carelink/internal/httpx"
	"github.com/carebridge/carelink/internal/model"
)

// OnSingletonConflict resolves a revision conflict on a whole-document
// resource: the named field of the conflict body is the authoritative
// replacement value. A body without that field (or with the wrong shape)
// resolves to ok=false so the query records a plain rejection.
func OnSingletonConflict[T any](docName string) asyncquery.ConflictResolver[T] {
	return func(err error) (T, bool) {
		var zero T
		raw, ok := conflictField(err, docName)
		if !ok {
			return zero, false
		}
		var v T
		if remarshal(raw, &v) != nil {
			return zero, false
		}
		return v, true
	}
}

// OnArrayConflict resolves a conflict on a single item within a cached
// collection: the disputed item is extracted from the conflict body and
// reconciled into the current array, replacing the element with the same
// document id or appending when absent. The rest of the cached collection is
// kept. A missing match is logged as an assertion failure since the client
// should only update items it has loaded.
func OnArrayConflict[T model.Identified](log *zap.Logger, itemName string, current func() []T) asyncquery.ConflictResolver[[]T] {
	return func(err error) ([]T, bool) {
		raw, ok := conflictField(err, itemName)
		if !ok {
			return nil, false
		}
		var item T
		if remarshal(raw, &item) != nil {
			return nil, false
		}
		cur := current()
		if _, found := indexByID(cur, item.DocumentID()); !found {
			log.Error("conflict item not present in cached collection",
				zap.String("item", itemName),
				zap.String("id", item.DocumentID()),
			)
		}
		return mergeItem(cur, item), true
	}
}

// mergeItem replaces the element of items sharing item's document id, or
// appends item when no element matches. Order is preserved.
func mergeItem[T model.Identified](items []T, item T) []T {
	if i, ok := indexByID(items, item.DocumentID()); ok {
		items[i] = item
		return items
	}
	return append(items, item)
}

func indexByID[T model.Identified](items []T, id string) (int, bool) {
	for i := range items {
		if items[i].DocumentID() == id {
			return i, true
		}
	}
	return 0, false
}

func conflictField(err error, name string) (any, bool) {
	var ce *httpx.ConflictError
	if !errors.As(err, &ce) || ce.Body == nil {
		return nil, false
	}
	raw, ok := ce.Body[name]
	return raw, ok
}

func remarshal(in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
