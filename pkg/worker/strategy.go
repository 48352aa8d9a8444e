// Package worker implements the request-intercepting asset cache: the
// strategy table, request classification, the per-class fetch-and-cache
// handlers, the install/activate lifecycle and an http.Handler adapter.
package worker

import (
	"sort"
	"time"
)

// Class is the resource class a request is routed by.
type Class int

const (
	ClassUnhandled Class = iota
	ClassImage
	ClassAPI
	ClassStatic
)

func (c Class) String() string {
	switch c {
	case ClassImage:
		return "image"
	case ClassAPI:
		return "api"
	case ClassStatic:
		return "static"
	default:
		return "unhandled"
	}
}

// Strategy configures the partition backing one resource class.
type Strategy struct {
	Name       string
	MaxAge     time.Duration
	MaxEntries int
}

// Strategies maps each handled class to its partition configuration.
type Strategies map[Class]Strategy

// DefaultStrategies returns the standard table for a deployed version.
func DefaultStrategies(prefix, version string) Strategies {
	return Strategies{
		ClassImage: {
			Name:       prefix + "-images-" + version,
			MaxAge:     30 * 24 * time.Hour,
			MaxEntries: 100,
		},
		ClassAPI: {
			Name:       prefix + "-api-" + version,
			MaxAge:     5 * time.Minute,
			MaxEntries: 50,
		},
		ClassStatic: {
			Name:       prefix + "-static-" + version,
			MaxAge:     7 * 24 * time.Hour,
			MaxEntries: 200,
		},
	}
}

// ShellCacheName is the versioned name of the application-shell cache.
func ShellCacheName(prefix, release string) string {
	return prefix + "-" + release
}

// Names lists the partition names in the table, sorted.
func (s Strategies) Names() []string {
	names := make([]string, 0, len(s))
	for _, st := range s {
		names = append(names, st.Name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is a live partition in the table.
func (s Strategies) Has(name string) bool {
	for _, st := range s {
		if st.Name == name {
			return true
		}
	}
	return false
}
