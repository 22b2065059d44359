// Package dataset fetches and decodes the passenger table and produces a
// cleaned training set.
package dataset

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultRemoteURL is the public copy of the passenger table.
const DefaultRemoteURL = "https://raw.githubusercontent.com/mwaskom/seaborn-data/master/titanic.csv"

// DefaultSource is the bundled sample, usable offline.
const DefaultSource = "builtin:titanic"

type SourceKind string

const (
	SourceURL     SourceKind = "url"
	SourceFile    SourceKind = "file"
	SourceBuiltin SourceKind = "builtin"
)

// Source identifies where the passenger table comes from.
type Source struct {
	Kind     SourceKind `json:"kind"`
	Location string     `json:"location"`
}

// ParseSource accepts an http(s) URL, "builtin:<name>", "file://<path>" or a
// bare file path.
func ParseSource(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Source{}, fmt.Errorf("empty data source")
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return Source{Kind: SourceURL, Location: raw}, nil
	case strings.HasPrefix(raw, "builtin:"):
		name := strings.TrimPrefix(raw, "builtin:")
		if _, ok := builtins[name]; !ok {
			return Source{}, fmt.Errorf("unknown builtin dataset %q (available: %s)", name, strings.Join(BuiltinNames(), ", "))
		}
		return Source{Kind: SourceBuiltin, Location: name}, nil
	case strings.HasPrefix(raw, "file://"):
		return Source{Kind: SourceFile, Location: strings.TrimPrefix(raw, "file://")}, nil
	default:
		return Source{Kind: SourceFile, Location: raw}, nil
	}
}

func (s Source) String() string {
	switch s.Kind {
	case SourceBuiltin:
		return "builtin:" + s.Location
	case SourceFile:
		return "file://" + s.Location
	default:
		return s.Location
	}
}

// LocalPath returns the file path of a file source.
func (s Source) LocalPath() (string, bool) {
	return s.Location, s.Kind == SourceFile
}

// BuiltinNames lists the bundled datasets.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
