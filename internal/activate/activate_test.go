package activate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"packager/internal/errs"
	"packager/internal/pkgref"
	"packager/pkg/version"
)

// packageDir creates <base>/<name>-<suffix> with version metadata.
func packageDir(t *testing.T, base, name, suffix, ver string) string {
	t.Helper()
	dir := filepath.Join(base, name+"-"+suffix)
	if err := os.MkdirAll(filepath.Join(dir, "META-INF"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "META-INF", "version.yml"), []byte("version: "+ver+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newPointers(t *testing.T, kind Kind) *Pointers {
	t.Helper()
	return &Pointers{Base: t.TempDir(), Kind: kind, Table: version.DefaultGuessTable()}
}

func ref(pkg, ver string) pkgref.Ref {
	return pkgref.Ref{Package: pkg, Version: version.MustParse(ver)}
}

func TestActivateThenActiveVersion(t *testing.T) {
	p := newPointers(t, Packages)
	packageDir(t, p.Base, "nova", "2.0.0", "2.0.0")

	if _, ok, err := p.ActiveVersion("nova"); err != nil || ok {
		t.Fatalf("expected Unbound, got ok=%v err=%v", ok, err)
	}

	got, err := p.Activate(ref("nova", "2.0.0"))
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if got.Suffix != "2.0.0" {
		t.Fatalf("suffix = %q", got.Suffix)
	}
	target, err := os.Readlink(filepath.Join(p.Base, "nova"))
	if err != nil || target != "nova-2.0.0" {
		t.Fatalf("pointer = (%q, %v)", target, err)
	}

	v, ok, err := p.ActiveVersion("nova")
	if err != nil || !ok || v.String() != "2.0.0" {
		t.Fatalf("ActiveVersion = (%s, %v, %v)", v, ok, err)
	}
}

func TestActivateRefusesBoundName(t *testing.T) {
	p := newPointers(t, Packages)
	packageDir(t, p.Base, "nova", "2.0.0", "2.0.0")
	packageDir(t, p.Base, "nova", "2.1.0", "2.1.0")

	if _, err := p.Activate(ref("nova", "2.0.0")); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	for _, ver := range []string{"2.0.0", "2.1.0"} {
		_, err := p.Activate(ref("nova", ver))
		if !errors.Is(err, errs.ErrAlreadyActive) {
			t.Fatalf("Activate(%s): expected ErrAlreadyActive, got %v", ver, err)
		}
	}
	v, _, _ := p.ActiveVersion("nova")
	if v.String() != "2.0.0" {
		t.Fatalf("active version changed to %s", v)
	}
}

func TestActivateMissingExpansion(t *testing.T) {
	p := newPointers(t, Packages)
	_, err := p.Activate(ref("nova", "2.0.0"))
	if !errors.Is(err, errs.ErrMissingExpansion) {
		t.Fatalf("expected ErrMissingExpansion, got %v", err)
	}

	r := ref("nova", "2.0.0")
	r.Suffix = "2.0.0"
	if _, err := p.Activate(r); !errors.Is(err, errs.ErrMissingExpansion) {
		t.Fatalf("expected ErrMissingExpansion with suffix, got %v", err)
	}
	if _, err := os.Lstat(filepath.Join(p.Base, "nova")); !os.IsNotExist(err) {
		t.Fatalf("pointer should not exist: %v", err)
	}
}

func TestDeactivate(t *testing.T) {
	p := newPointers(t, Packages)
	packageDir(t, p.Base, "nova", "2.0.0", "2.0.0")

	changed, err := p.Deactivate(pkgref.Ref{Package: "nova"})
	if err != nil || changed {
		t.Fatalf("Deactivate on Unbound = (%v, %v)", changed, err)
	}
	if _, err := p.Deactivate(ref("nova", "2.0.0")); !errors.Is(err, errs.ErrVersionMismatch) {
		t.Fatalf("Deactivate(2.0.0) on Unbound: expected ErrVersionMismatch, got %v", err)
	}

	if _, err := p.Activate(ref("nova", "2.0.0")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Deactivate(ref("nova", "2.1.0")); !errors.Is(err, errs.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	changed, err = p.Deactivate(pkgref.Ref{Package: "nova", Latest: true})
	if err != nil || !changed {
		t.Fatalf("Deactivate(latest) = (%v, %v)", changed, err)
	}
	if _, ok, _ := p.ActiveVersion("nova"); ok {
		t.Fatal("expected Unbound after deactivate")
	}
}

func TestInconsistentPointers(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, base string)
	}{
		{"plain file", func(t *testing.T, base string) {
			if err := os.WriteFile(filepath.Join(base, "nova"), nil, 0o644); err != nil {
				t.Fatal(err)
			}
		}},
		{"foreign target", func(t *testing.T, base string) {
			packageDir(t, base, "glance", "1.0", "1.0")
			if err := os.Symlink("glance-1.0", filepath.Join(base, "nova")); err != nil {
				t.Fatal(err)
			}
		}},
		{"bare prefix", func(t *testing.T, base string) {
			if err := os.Symlink("nova-", filepath.Join(base, "nova")); err != nil {
				t.Fatal(err)
			}
		}},
		{"dangling", func(t *testing.T, base string) {
			if err := os.Symlink("nova-9.9", filepath.Join(base, "nova")); err != nil {
				t.Fatal(err)
			}
		}},
		{"absolute", func(t *testing.T, base string) {
			dir := packageDir(t, base, "nova", "1.0", "1.0")
			if err := os.Symlink(dir, filepath.Join(base, "nova")); err != nil {
				t.Fatal(err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPointers(t, Packages)
			tt.setup(t, p.Base)
			packageDir(t, p.Base, "nova", "2.0.0", "2.0.0")

			if _, _, err := p.ActiveVersion("nova"); !errors.Is(err, errs.ErrConsistency) {
				t.Fatalf("ActiveVersion: expected ErrConsistency, got %v", err)
			}
			if _, err := p.Activate(ref("nova", "2.0.0")); !errors.Is(err, errs.ErrConsistency) {
				t.Fatalf("Activate: expected ErrConsistency, got %v", err)
			}
			if _, err := p.Deactivate(ref("nova", "2.0.0")); !errors.Is(err, errs.ErrConsistency) {
				t.Fatalf("Deactivate: expected ErrConsistency, got %v", err)
			}
			if _, err := os.Lstat(filepath.Join(p.Base, "nova")); err != nil {
				t.Fatalf("inconsistent pointer must be left in place: %v", err)
			}
		})
	}
}

func TestLegacySuffixPointerRoundTrip(t *testing.T) {
	p := newPointers(t, Packages)
	packageDir(t, p.Base, "nova", "ardana-1", "1.0.0")

	r := ref("nova", "1.0.0")
	r.Suffix = "ardana-1"
	if _, err := p.Activate(r); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	target, ok, err := p.Current("nova")
	if err != nil || !ok || target != "nova-ardana-1" {
		t.Fatalf("Current = (%q, %v, %v)", target, ok, err)
	}
	v, ok, err := p.ActiveVersion("nova")
	if err != nil || !ok || v.String() != "1.0.0" {
		t.Fatalf("ActiveVersion = (%s, %v, %v)", v, ok, err)
	}
	if got, err := p.EnsureSuffix(ref("nova", "1.0.0")); err != nil || got.Suffix != "ardana-1" {
		t.Fatalf("EnsureSuffix = (%q, %v)", got.Suffix, err)
	}
	changed, err := p.Deactivate(ref("nova", "1.0.0"))
	if err != nil || !changed {
		t.Fatalf("Deactivate = (%v, %v)", changed, err)
	}
}

func TestEnsureSuffix(t *testing.T) {
	p := newPointers(t, Packages)
	packageDir(t, p.Base, "nova", "a1", "2.0.0")
	packageDir(t, p.Base, "nova", "b2", "2.10.0")
	packageDir(t, p.Base, "nova-api", "c3", "9.0.0")
	if err := os.Symlink("nova-b2", filepath.Join(p.Base, "nova")); err != nil {
		t.Fatal(err)
	}

	got, err := p.EnsureSuffix(ref("nova", "2.0.0"))
	if err != nil || got.Suffix != "a1" {
		t.Fatalf("EnsureSuffix(2.0.0) = (%q, %v)", got.Suffix, err)
	}
	got, err = p.EnsureSuffix(pkgref.Ref{Package: "nova", Latest: true})
	if err != nil || got.Suffix != "b2" || got.Version.String() != "2.10.0" {
		t.Fatalf("EnsureSuffix(latest) = (%+v, %v)", got, err)
	}
	if _, err := p.EnsureSuffix(ref("nova", "3.0.0")); !errors.Is(err, errs.ErrMissingExpansion) {
		t.Fatalf("expected ErrMissingExpansion, got %v", err)
	}
}

func TestServicePointersReadThroughVenv(t *testing.T) {
	root := t.TempDir()
	pkgDir := packageDir(t, filepath.Join(root, "venv"), "nova", "2.0.0", "2.0.0")
	svcBase := filepath.Join(root, "service")
	svcDir := filepath.Join(svcBase, "nova-api-2.0.0")
	if err := os.MkdirAll(svcDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(pkgDir, filepath.Join(svcDir, "venv")); err != nil {
		t.Fatal(err)
	}

	p := &Pointers{Base: svcBase, Kind: Services, Table: version.DefaultGuessTable()}
	r := pkgref.Ref{Package: "nova", Service: "nova-api", Suffix: "2.0.0"}
	r, err := p.ResolveVersion(r)
	if err != nil || r.Version.String() != "2.0.0" {
		t.Fatalf("ResolveVersion = (%+v, %v)", r, err)
	}
	if _, err := p.Activate(r); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	v, ok, err := p.ActiveVersion("nova-api")
	if err != nil || !ok || v.String() != "2.0.0" {
		t.Fatalf("ActiveVersion = (%s, %v, %v)", v, ok, err)
	}
}

func TestActivateWithResolvedSuffixStillChecksPointer(t *testing.T) {
	p := newPointers(t, Packages)
	packageDir(t, p.Base, "nova", "2.0.0", "2.0.0")
	r := ref("nova", "2.0.0")
	r.Suffix = "2.0.0"

	if err := os.Symlink("nova-2.0.0", filepath.Join(p.Base, "nova")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Activate(r); !errors.Is(err, errs.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
}
