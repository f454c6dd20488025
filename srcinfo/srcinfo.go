// Package srcinfo parses .SRCINFO blobs, the declarative key=value
// summary of a PKGBUILD stored at the root of every package branch.
//
// A file holds one pkgbase section followed by one or more pkgname
// sections. Package sections start as a deep copy of the base section;
// a multi-value key defined in a package section fully replaces the
// inherited list, independently per architecture suffix.
package srcinfo

import (
	"fmt"
	"sort"
	"strings"
)

// Package is one parsed pkgname section with its base inheritance
// applied and the per-arch lists flattened.
type Package struct {
	Branch  string
	Name    string
	Desc    string
	Version string
	URL     string

	Depends      []string
	MakeDepends  []string
	OptDepends   []string
	CheckDepends []string
	Provides     []string
	Conflicts    []string
	Replaces     []string
	Groups       []string
}

// Result is the outcome of parsing one .SRCINFO file.
type Result struct {
	Base     string
	Packages []*Package
	// Warnings lists tolerated malformed lines: continuations with no
	// open section, empty values, values on unknown scalar keys.
	Warnings []string
}

// Scalar keys overwrite on repetition; everything else collects.
var scalarKeys = map[string]bool{
	"pkgdesc": true,
	"pkgver":  true,
	"pkgrel":  true,
	"epoch":   true,
	"url":     true,
}

// multiBases are the multi-value keys, each of which may carry an
// architecture suffix (depends_x86_64 and the like).
var multiBases = []string{
	"depends",
	"makedepends",
	"optdepends",
	"checkdepends",
	"provides",
	"conflicts",
	"replaces",
	"groups",
	"license",
	"arch",
	"source",
	"b2sums",
	"sha256sums",
	"sha512sums",
	"md5sums",
	"validpgpkeys",
	"noextract",
	"options",
	"backup",
	"install",
	"changelog",
}

// isMultiKey reports whether the key is a known multi-value key, with or
// without an architecture suffix.
func isMultiKey(key string) bool {
	for _, base := range multiBases {
		if key == base || strings.HasPrefix(key, base+"_") {
			return true
		}
	}
	return false
}

// section is a tagged bundle of scalar slots plus named multi-value
// buckets. Inheritance is a shallow merge with per-key replacement for
// buckets.
type section struct {
	scalars map[string]string
	// buckets is keyed by the full key including any arch suffix, so
	// override semantics apply independently per suffix.
	buckets map[string][]string
	// defined marks bucket keys the section set itself, as opposed to
	// inherited ones; the first own value replaces the inherited list.
	defined map[string]bool
}

func newSection() *section {
	return &section{
		scalars: make(map[string]string),
		buckets: make(map[string][]string),
		defined: make(map[string]bool),
	}
}

func (s *section) inherit() *section {
	child := newSection()
	for k, v := range s.scalars {
		child.scalars[k] = v
	}
	for k, v := range s.buckets {
		child.buckets[k] = append([]string(nil), v...)
	}
	return child
}

func (s *section) set(key, value string) {
	if scalarKeys[key] {
		s.scalars[key] = value
		return
	}
	if !s.defined[key] {
		// First own definition replaces whatever was inherited.
		s.buckets[key] = nil
		s.defined[key] = true
	}
	s.buckets[key] = append(s.buckets[key], value)
}

// flatten merges the arch-agnostic list of a multi-value base key with
// every arch-specific list: agnostic first, then arch names in
// lexicographic order.
func (s *section) flatten(base string) []string {
	out := append([]string(nil), s.buckets[base]...)

	prefix := base + "_"
	var arches []string
	for key := range s.buckets {
		if strings.HasPrefix(key, prefix) {
			arches = append(arches, key)
		}
	}
	sort.Strings(arches)
	for _, key := range arches {
		out = append(out, s.buckets[key]...)
	}
	return out
}

// version synthesizes the canonical version string
// "[epoch:]pkgver-pkgrel".
func (s *section) version() string {
	ver := fmt.Sprintf("%s-%s", s.scalars["pkgver"], s.scalars["pkgrel"])
	if epoch := s.scalars["epoch"]; epoch != "" {
		return fmt.Sprintf("%s:%s", epoch, ver)
	}
	return ver
}

// Parse parses one .SRCINFO blob. The branch name is supplied by the
// caller and stamped on every produced package record.
//
// Malformed lines are tolerated and recorded as warnings; a second
// pkgbase line is the one hard error.
func Parse(branch string, data []byte) (*Result, error) {
	result := &Result{}

	var base *section
	var current *section
	var packages []*section
	var names []string

	warnf := func(lineno int, format string, args ...any) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s:%d: %s", branch, lineno, fmt.Sprintf(format, args...)))
	}

	for lineno, line := range strings.Split(string(data), "\n") {
		lineno++
		// Upstream blobs occasionally carry CRLF endings; a trailing CR
		// is trimmed, an interior CR stays part of the value.
		line = strings.TrimSuffix(line, "\r")

		indented := strings.HasPrefix(line, "\t") || strings.HasPrefix(line, " ")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		key, value, ok := strings.Cut(trimmed, "=")
		if !ok {
			warnf(lineno, "line is not key = value")
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if indented && current == nil && base == nil {
			warnf(lineno, "continuation before any section")
			continue
		}

		switch key {
		case "pkgbase":
			if base != nil {
				return nil, fmt.Errorf("%s: duplicate pkgbase at line %d", branch, lineno)
			}
			if value == "" {
				warnf(lineno, "empty pkgbase")
				continue
			}
			base = newSection()
			current = base
			result.Base = value

		case "pkgname":
			if value == "" {
				warnf(lineno, "empty pkgname")
				continue
			}
			pkg := newSection()
			if base != nil {
				pkg = base.inherit()
			}
			packages = append(packages, pkg)
			names = append(names, value)
			current = pkg

		default:
			if value == "" {
				warnf(lineno, "empty value for %s", key)
				continue
			}
			if current == nil {
				warnf(lineno, "%s before any section", key)
				continue
			}
			if !scalarKeys[key] && !isMultiKey(key) {
				warnf(lineno, "unknown key %s", key)
				continue
			}
			current.set(key, value)
		}
	}

	for i, pkg := range packages {
		result.Packages = append(result.Packages, &Package{
			Branch:       branch,
			Name:         names[i],
			Desc:         pkg.scalars["pkgdesc"],
			Version:      pkg.version(),
			URL:          pkg.scalars["url"],
			Depends:      pkg.flatten("depends"),
			MakeDepends:  pkg.flatten("makedepends"),
			OptDepends:   pkg.flatten("optdepends"),
			CheckDepends: pkg.flatten("checkdepends"),
			Provides:     pkg.flatten("provides"),
			Conflicts:    pkg.flatten("conflicts"),
			Replaces:     pkg.flatten("replaces"),
			Groups:       pkg.flatten("groups"),
		})
	}

	return result, nil
}
