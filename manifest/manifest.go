// Package manifest normalizes a raw package.json-style document into a
// stable struct every other component can rely on, collapsing the
// ecosystem's "a field can be a string, an array, or a boolean"
// shorthands into one shape.
package manifest

import "encoding/json"

// Manifest is the normalized form of a package manifest document.
// Missing fields default to their zero value (empty map/slice/string).
type Manifest struct {
	Name    string `json:"name"`
	Version string `json:"version"`

	Bin map[string]string `json:"bin"`

	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies       map[string]string `json:"devDependencies"`
	OptionalDependencies  map[string]string `json:"optionalDependencies"`
	PeerDependencies      map[string]string `json:"peerDependencies"`
	PeerDependenciesMeta  map[string]PeerDependencyMeta `json:"peerDependenciesMeta"`

	// BundledDependencies holds the raw array of names when the manifest
	// gave one; when the raw value was true it is filled with every key of
	// Dependencies. It is nil when absent or false.
	BundledDependencies []string `json:"bundledDependencies"`

	Scripts map[string]string `json:"scripts"`

	OS  []string          `json:"os"`
	CPU []string          `json:"cpu"`
	Engines map[string]string `json:"engines"`

	// Deprecated holds the message when the raw field was a non-empty
	// string and "deprecated" when it was literal true; it is empty when
	// absent or literal false.
	Deprecated string `json:"deprecated"`
}

// PeerDependenciesMeta entry; currently only "optional" is meaningful.
type PeerDependencyMeta struct {
	Optional bool `json:"optional"`
}

// raw mirrors the on-disk document with the loosely-typed fields kept
// as json.RawMessage so Normalize can inspect their dynamic shape.
type raw struct {
	Name                 string                         `json:"name"`
	Version              string                         `json:"version"`
	Bin                  json.RawMessage                `json:"bin"`
	Dependencies         map[string]string               `json:"dependencies"`
	DevDependencies      map[string]string               `json:"devDependencies"`
	OptionalDependencies map[string]string               `json:"optionalDependencies"`
	PeerDependencies     map[string]string               `json:"peerDependencies"`
	PeerDependenciesMeta map[string]PeerDependencyMeta   `json:"peerDependenciesMeta"`
	BundledDependencies  json.RawMessage                 `json:"bundledDependencies"`
	BundleDependencies   json.RawMessage                 `json:"bundleDependencies"`
	Scripts              map[string]string               `json:"scripts"`
	OS                   []string                         `json:"os"`
	CPU                  []string                         `json:"cpu"`
	Engines              map[string]string               `json:"engines"`
	Deprecated           json.RawMessage                 `json:"deprecated"`
}

// Parse unmarshals raw package.json bytes and normalizes them.
func Parse(data []byte) (*Manifest, error) {
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return normalize(&r), nil
}

func normalize(r *raw) *Manifest {
	m := &Manifest{
		Name:                 r.Name,
		Version:              r.Version,
		Dependencies:         orEmpty(r.Dependencies),
		DevDependencies:      orEmpty(r.DevDependencies),
		OptionalDependencies: orEmpty(r.OptionalDependencies),
		PeerDependencies:     orEmpty(r.PeerDependencies),
		PeerDependenciesMeta: r.PeerDependenciesMeta,
		Scripts:              orEmpty(r.Scripts),
		OS:                   r.OS,
		CPU:                  r.CPU,
		Engines:              orEmpty(r.Engines),
	}

	m.Bin = normalizeBin(r.Name, r.Bin)

	bundled := r.BundledDependencies
	if len(bundled) == 0 {
		bundled = r.BundleDependencies
	}
	m.BundledDependencies = normalizeBundled(bundled, m.Dependencies)

	m.Deprecated = normalizeDeprecated(r.Deprecated)

	return m
}

// normalizeBin collapses the two raw shapes: a bare string (the
// package's own name becomes the bin name) or an object map.
func normalizeBin(name string, raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return map[string]string{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if name == "" || s == "" {
			return map[string]string{}
		}
		return map[string]string{name: s}
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err == nil {
		return orEmpty(m)
	}
	return map[string]string{}
}

// normalizeBundled collapses the raw shape: an array of names, or the
// literal boolean true meaning "every direct dependency".
func normalizeBundled(raw json.RawMessage, deps map[string]string) []string {
	if len(raw) == 0 {
		return nil
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil && b {
		names := make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		return names
	}
	return nil
}

// normalizeDeprecated collapses the raw shape: a message string, or a
// boolean (false means "not deprecated", meaningful true without a
// message is rare enough that the spec treats it as "deprecated, no
// message").
func normalizeDeprecated(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return "deprecated"
		}
		return ""
	}
	return ""
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
