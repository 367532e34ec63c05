// Package imageref models image coordinates and the tag alias set produced
// by a build. One built artifact is addressed by several tags; the tags are
// aliases, not copies.
package imageref

import (
	"fmt"
	"strings"
	"time"
)

// Ref is a fully qualified image reference without a tag.
type Ref struct {
	Registry   string
	Namespace  string
	Repository string
}

// String returns registry[/namespace]/repository.
func (r Ref) String() string {
	if r.Namespace == "" {
		return r.Registry + "/" + r.Repository
	}
	return r.Registry + "/" + r.Namespace + "/" + r.Repository
}

// Tagged returns the reference with a tag appended.
func (r Ref) Tagged(tag string) string {
	return r.String() + ":" + tag
}

// TagSet computes the alias set for one build: the explicit primary tag, the
// semantic version, and a date stamp. Duplicates collapse so pushing the set
// never pushes the same tag twice.
func TagSet(primary, version string, date time.Time) []string {
	tags := []string{primary}
	if version != "" && version != primary {
		tags = append(tags, version)
	}
	stamp := date.UTC().Format("20060102")
	if stamp != primary && stamp != version {
		tags = append(tags, stamp)
	}
	return tags
}

// Parse splits a reference like registry/namespace/name into a Ref. The last
// path element is the repository; an optional middle section is the
// namespace.
func Parse(s string) (Ref, error) {
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 2:
		return Ref{Registry: parts[0], Repository: parts[1]}, nil
	case 3:
		return Ref{Registry: parts[0], Namespace: parts[1], Repository: parts[2]}, nil
	default:
		return Ref{}, fmt.Errorf("invalid image reference %q: want registry[/namespace]/name", s)
	}
}
