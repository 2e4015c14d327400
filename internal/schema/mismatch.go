package schema

import (
	"errors"
	"fmt"
	"sort"
)

// MismatchError reports a property whose kind or cardinality disagrees with
// the type the target store already declares for it.
type MismatchError struct {
	Property string
	Declared PropertyType
	Got      PropertyType
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: property %q declared %s, got %s", e.Property, e.Declared, e.Got)
}

// IsMismatch reports whether err wraps a *MismatchError.
func IsMismatch(err error) bool {
	var me *MismatchError
	return errors.As(err, &me)
}

// CheckDeclared compares the properties of r against the declarations in
// declared. Undeclared properties pass. The first mismatch in property name
// order is returned.
func CheckDeclared(declared map[string]PropertyType, r Record) error {
	if len(declared) == 0 || len(r) == 0 {
		return nil
	}
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		want, ok := declared[name]
		if !ok {
			continue
		}
		got := r[name].Type()
		if !want.Compatible(got) {
			return &MismatchError{Property: name, Declared: want, Got: got}
		}
	}
	return nil
}

// CheckTable compares a job's table against the store's declarations. It is
// the table-level form of CheckDeclared used by schema bootstrap.
func CheckTable(declared map[string]PropertyType, t *Table) error {
	for _, name := range t.Names() {
		want, ok := declared[name]
		if !ok {
			continue
		}
		got, _ := t.Lookup(name)
		if !want.Compatible(got) {
			return &MismatchError{Property: name, Declared: want, Got: got}
		}
	}
	return nil
}
