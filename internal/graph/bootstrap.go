package graph

import (
	"context"
	"fmt"
	"log"

	"graphload/internal/schema"
)

// Bootstrap prepares a store for a load: optionally drops everything, then
// declares labels, property keys and the key index. Stores that implement
// neither Resetter nor SchemaDeclarer are left alone.
func Bootstrap(ctx context.Context, st Store, s Schema, reset bool) error {
	if reset {
		r, ok := st.(Resetter)
		if !ok {
			return fmt.Errorf("bootstrap: store %T cannot be reset", st)
		}
		if err := r.Reset(ctx); err != nil {
			return fmt.Errorf("bootstrap: reset: %w", err)
		}
		log.Printf("graph: reset store")
	}
	if sr, ok := st.(SchemaReader); ok {
		declared, err := sr.PropertyKeys(ctx)
		if err != nil {
			return fmt.Errorf("bootstrap: read property keys: %w", err)
		}
		tbl, err := schema.NewTable(s.Properties)
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		if err := schema.CheckTable(declared, tbl); err != nil {
			return err
		}
	}
	d, ok := st.(SchemaDeclarer)
	if !ok {
		log.Printf("graph: store %T does not take schema declarations; skipping", st)
		return nil
	}
	if err := d.DeclareSchema(ctx, s); err != nil {
		return fmt.Errorf("bootstrap: declare schema: %w", err)
	}
	log.Printf("graph: declared vertex_labels=%d edge_labels=%d properties=%d keys=%v",
		len(s.VertexLabels), len(s.EdgeLabels), len(s.Properties), s.KeyProperties)
	return nil
}

// Preflight compares one built record against the store's declared property
// keys. Stores that are not SchemaReaders always pass.
func Preflight(ctx context.Context, st Store, rec schema.Record) error {
	sr, ok := st.(SchemaReader)
	if !ok {
		return nil
	}
	declared, err := sr.PropertyKeys(ctx)
	if err != nil {
		return fmt.Errorf("preflight: read property keys: %w", err)
	}
	return schema.CheckDeclared(declared, rec)
}
