// Package errs defines the failure kinds reported by packager operations.
//
// Every failure surfaced to a caller is an *Error carrying a Kind together
// with the operation, path and package/service/version involved. Kinds are
// sentinels: callers match them with errors.Is.
package errs

import (
	"errors"
	"strings"

	"packager/pkg/version"
)

// Category groups kinds by how a caller should treat them.
type Category string

const (
	CategoryInput      Category = "input"
	CategoryFilesystem Category = "filesystem"
	CategoryArchive    Category = "archive"
	CategoryNetwork    Category = "network"
	CategoryInternal   Category = "internal"
)

// Kind is a named failure class. Kinds compare by identity.
type Kind struct {
	code     string
	message  string
	category Category
}

func newKind(code, message string, category Category) *Kind {
	return &Kind{code: code, message: message, category: category}
}

func (k *Kind) Error() string { return k.message }

// Code returns the stable machine-readable identifier of the kind.
func (k *Kind) Code() string { return k.code }

// Category returns the category the kind belongs to.
func (k *Kind) Category() Category { return k.category }

// Input and configuration failures.
var (
	ErrConfig          = newKind("config", "invalid configuration", CategoryInput)
	ErrInvalidRequest  = newKind("invalid_request", "invalid request", CategoryInput)
	ErrMissingField    = newKind("missing_field", "required field not resolved", CategoryInput)
	ErrIndexMissing    = newKind("index_missing", "package index not found", CategoryInput)
	ErrIndexCorrupt    = newKind("index_corrupt", "badly formed package index", CategoryInput)
	ErrUnknownPackage  = newKind("unknown_package", "package not listed in index", CategoryInput)
	ErrUnknownVersion  = newKind("unknown_version", "version not available", CategoryInput)
	ErrNoVersions      = newKind("no_versions", "no versions available", CategoryInput)
	ErrArchiveNotFound = newKind("archive_not_found", "archive not found", CategoryInput)
)

// Filesystem-state failures. These are never remediated automatically.
var (
	ErrTargetConflict       = newKind("target_conflict", "target exists and is not a directory", CategoryFilesystem)
	ErrNotADirectory        = newKind("not_a_directory", "target is not a directory", CategoryFilesystem)
	ErrDeletion             = newKind("deletion", "could not delete", CategoryFilesystem)
	ErrActiveVersionRemoval = newKind("active_version_removal", "cannot remove the active version", CategoryFilesystem)
	ErrPackageInUse         = newKind("package_in_use", "package is referenced by service directories", CategoryFilesystem)
	ErrPackageNotExpanded   = newKind("package_not_expanded", "package directory not found", CategoryFilesystem)
	ErrLinkCreation         = newKind("link_creation", "could not create service directory", CategoryFilesystem)
	ErrConsistency          = newKind("consistency", "activation pointer is inconsistent", CategoryFilesystem)
	ErrAlreadyActive        = newKind("already_active", "another version is already active", CategoryFilesystem)
	ErrMissingExpansion     = newKind("missing_expansion", "no expanded directory for version", CategoryFilesystem)
	ErrVersionMismatch      = newKind("version_mismatch", "active version differs from requested version", CategoryFilesystem)
	ErrActivation           = newKind("activation", "could not update activation pointer", CategoryFilesystem)
)

// Archive-safety failures.
var (
	ErrArchiveFormat     = newKind("archive_format", "archive is not a valid tar container", CategoryArchive)
	ErrExtraction        = newKind("extraction", "archive could not be extracted", CategoryArchive)
	ErrUnsafeArchivePath = newKind("unsafe_archive_path", "archive member escapes the target directory", CategoryArchive)
)

// Network failures.
var (
	ErrNetwork  = newKind("network", "index fetch failed", CategoryNetwork)
	ErrDownload = newKind("download", "archive download failed", CategoryNetwork)
)

// Error is a failure annotated with the context needed to diagnose it
// without re-running the operation.
type Error struct {
	Kind    *Kind
	Op      string
	Path    string
	Package string
	Service string
	Version string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.message)
	} else {
		b.WriteString("failed")
	}

	var fields []string
	if e.Package != "" {
		fields = append(fields, "package="+e.Package)
	}
	if e.Service != "" {
		fields = append(fields, "service="+e.Service)
	}
	if e.Version != "" {
		fields = append(fields, "version="+e.Version)
	}
	if e.Path != "" {
		fields = append(fields, "path="+e.Path)
	}
	if len(fields) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(fields, " "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	var out []error
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// New builds an *Error of the given kind for op.
func New(kind *Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// At sets the path involved.
func (e *Error) At(path string) *Error {
	e.Path = path
	return e
}

// Wrap sets the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// KindOf returns the outermost kind found in err's chain.
func KindOf(err error) *Kind {
	var k *Kind
	if errors.As(err, &k) {
		return k
	}
	return nil
}

// CategoryOf classifies err. Version format failures count as input.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	if k := KindOf(err); k != nil {
		return k.category
	}
	if errors.Is(err, version.ErrFormat) || errors.Is(err, version.ErrUnknownSuffix) {
		return CategoryInput
	}
	return CategoryInternal
}

// Code returns the code of err's kind, or "internal".
func Code(err error) string {
	if k := KindOf(err); k != nil {
		return k.code
	}
	if errors.Is(err, version.ErrFormat) {
		return "format"
	}
	return "internal"
}
