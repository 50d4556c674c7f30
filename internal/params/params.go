// Package params assembles delimited option strings for hypervisor tools.
//
// The external tools this CLI drives (qemu-img in particular) take options
// as separator-joined lists of key=value pairs or positional values, where
// unset options must be omitted entirely rather than passed empty.
package params

import "strings"

// Entry is a single option. A Key with an empty Value is skipped; an entry
// with no Key is positional and rendered as its Value alone.
type Entry struct {
	Key   string
	Value string
}

// KV returns a key=value entry.
func KV(key, value string) Entry {
	return Entry{Key: key, Value: value}
}

// Positional returns a bare-value entry.
func Positional(value string) Entry {
	return Entry{Value: value}
}

// Assemble joins the non-empty entries with sep, preserving input order.
// Entries whose Value is empty are skipped. Zero non-empty entries yield
// an empty string; callers must then omit the option flag entirely.
func Assemble(sep string, entries []Entry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Value == "" {
			continue
		}
		if e.Key == "" {
			parts = append(parts, e.Value)
			continue
		}
		parts = append(parts, e.Key+"="+e.Value)
	}
	return strings.Join(parts, sep)
}
