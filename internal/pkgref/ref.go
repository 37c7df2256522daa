// Package pkgref holds the progressively completed identity of one
// deployable unit: package, service, version, suffix and archive name.
package pkgref

import (
	"fmt"
	"strings"

	"packager/internal/errs"
	"packager/pkg/version"
)

// Field names a Ref field for precondition checks.
type Field string

const (
	FieldPackage Field = "package"
	FieldService Field = "service"
	FieldVersion Field = "version"
	FieldSuffix  Field = "suffix"
	FieldTarball Field = "tarball"
)

// Ref identifies a package/service pair at some version. Components fill
// in Suffix and Tarball as they resolve the ref against the index; once
// Suffix is set it is never replaced.
type Ref struct {
	Package string
	Service string
	// Version is the concrete requested or resolved version; zero when
	// unset.
	Version version.Version
	// Latest selects the highest indexed version. It is cleared once a
	// concrete Version has been resolved.
	Latest  bool
	Suffix  string
	Tarball string
}

// New builds a Ref from a version string. "latest" and "" select the
// newest version; anything else must parse.
func New(pkg, service, ver string) (Ref, error) {
	r := Ref{Package: pkg, Service: service}
	switch strings.ToLower(ver) {
	case "", "latest":
		r.Latest = true
	default:
		v, err := version.Parse(ver)
		if err != nil {
			return Ref{}, err
		}
		r.Version = v
	}
	return r, nil
}

// HasVersion reports whether a concrete version is set.
func (r Ref) HasVersion() bool { return !r.Version.IsZero() }

// VersionString renders the version, "latest", or "".
func (r Ref) VersionString() string {
	switch {
	case r.HasVersion():
		return r.Version.String()
	case r.Latest:
		return "latest"
	}
	return ""
}

// WithVersion returns a copy of r resolved to v.
func (r Ref) WithVersion(v version.Version) Ref {
	r.Version = v
	r.Latest = false
	return r
}

// SetSuffix fills the suffix. Replacing an already set suffix with a
// different value is an inconsistency.
func (r *Ref) SetSuffix(s string) error {
	if r.Suffix != "" && r.Suffix != s {
		return r.Err(errs.ErrConsistency, "set suffix", "",
			fmt.Errorf("suffix already resolved to %q, refusing %q", r.Suffix, s))
	}
	r.Suffix = s
	return nil
}

// Require fails with errs.ErrMissingField for the first absent field.
func (r Ref) Require(op string, fields ...Field) error {
	for _, f := range fields {
		var missing bool
		switch f {
		case FieldPackage:
			missing = r.Package == ""
		case FieldService:
			missing = r.Service == ""
		case FieldVersion:
			missing = !r.HasVersion()
		case FieldSuffix:
			missing = r.Suffix == ""
		case FieldTarball:
			missing = r.Tarball == ""
		}
		if missing {
			return r.Err(errs.ErrMissingField, op, "", fmt.Errorf("%s is not set", f))
		}
	}
	return nil
}

// PackageDirName is "<package>-<suffix>".
func (r Ref) PackageDirName() string { return version.JoinDir(r.Package, r.Suffix) }

// ServiceDirName is "<service>-<suffix>".
func (r Ref) ServiceDirName() string { return version.JoinDir(r.Service, r.Suffix) }

// Err builds an *errs.Error annotated with r's identity.
func (r Ref) Err(kind *errs.Kind, op, path string, cause error) error {
	return &errs.Error{
		Kind:    kind,
		Op:      op,
		Path:    path,
		Package: r.Package,
		Service: r.Service,
		Version: r.VersionString(),
		Err:     cause,
	}
}

func (r Ref) String() string {
	var b strings.Builder
	b.WriteString(r.Package)
	if r.Service != "" && r.Service != r.Package {
		b.WriteString("/")
		b.WriteString(r.Service)
	}
	if v := r.VersionString(); v != "" {
		b.WriteString("@")
		b.WriteString(v)
	}
	if r.Suffix != "" {
		b.WriteString(" (")
		b.WriteString(r.Suffix)
		b.WriteString(")")
	}
	return b.String()
}
