package graph

import (
	"context"
	"fmt"

	"graphload/internal/schema"
)

// Resolver finds vertices by business key inside a transaction and creates
// them when they are missing.
type Resolver struct {
	// CreateMissing creates a vertex for an unknown key. When false an
	// unknown key fails with *NotFoundError.
	CreateMissing bool

	// SkipUpdate leaves found vertices untouched instead of replacing the
	// given properties on them.
	SkipUpdate bool
}

// ResolveOrCreate returns the vertex whose keyProp equals key. A found vertex
// gets props upserted onto it, so loading the same row twice updates rather
// than duplicates. A missing vertex is created with label and props (the key
// is added to props when absent) and created is true.
//
// Uniqueness relies on the store's key index: when two transactions create
// the same key concurrently, one of them fails with a transient error and the
// retry resolves to the winner's vertex.
func (r Resolver) ResolveOrCreate(ctx context.Context, tx Tx, keyProp string, key schema.Value, label string, props schema.Record) (VertexRef, bool, error) {
	if !key.IsValid() {
		return VertexRef{}, false, fmt.Errorf("resolve %s: empty key", keyProp)
	}
	v, found, err := tx.FindVertex(ctx, keyProp, key)
	if err != nil {
		return VertexRef{}, false, fmt.Errorf("find %s=%s: %w", keyProp, key.Text(), err)
	}
	if found {
		if !r.SkipUpdate && len(props) > 0 {
			if err := tx.UpdateVertex(ctx, v.ID, props); err != nil {
				return VertexRef{}, false, fmt.Errorf("update %s=%s: %w", keyProp, key.Text(), err)
			}
		}
		return v.Ref(), false, nil
	}
	if !r.CreateMissing {
		return VertexRef{}, false, &NotFoundError{KeyProp: keyProp, Key: key}
	}
	if _, ok := props[keyProp]; !ok {
		props = props.Merge(schema.Record{keyProp: schema.SingleOf(key)})
	}
	ref, err := tx.CreateVertex(ctx, NewVertex{Label: label, Props: props, Keys: []string{keyProp}})
	if err != nil {
		return VertexRef{}, false, fmt.Errorf("create %s=%s: %w", keyProp, key.Text(), err)
	}
	return ref, true, nil
}

// KeyOf extracts the single key value of keyProp from props.
func KeyOf(props schema.Record, keyProp string) (schema.Value, bool) {
	p, ok := props[keyProp]
	if !ok {
		return schema.Value{}, false
	}
	return p.Single()
}
