package service

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"packager/internal/activate"
	"packager/internal/cache/cachetest"
	"packager/internal/errs"
	"packager/internal/expand"
	"packager/internal/paths"
	"packager/internal/pkgref"
	"packager/pkg/version"
)

func newLinker(t *testing.T) *Linker {
	t.Helper()
	layout := cachetest.Layout(t)
	return &Linker{
		Layout:   layout,
		Services: &activate.Pointers{Base: layout.ServiceDir, Kind: activate.Services, Table: version.DefaultGuessTable()},
	}
}

// expanded creates a package directory with metadata for ver.
func expanded(t *testing.T, layout paths.Layout, pkg, suffix, ver string) string {
	t.Helper()
	dir := layout.Package(pkg + "-" + suffix)
	if err := os.MkdirAll(filepath.Join(dir, "META-INF"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "META-INF", "version.yml"), []byte("version: "+ver+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func svcRef(pkg, svc, ver string) pkgref.Ref {
	return pkgref.Ref{Package: pkg, Service: svc, Version: version.MustParse(ver), Suffix: ver}
}

func TestReferCreatesServiceDirectory(t *testing.T) {
	l := newLinker(t)
	pkgDir := expanded(t, l.Layout, "nova", "2.0.0", "2.0.0")
	r := svcRef("nova", "nova-api", "2.0.0")

	changed, err := l.Refer(r)
	if err != nil || !changed {
		t.Fatalf("Refer = (%v, %v)", changed, err)
	}
	svcDir, _ := l.ServiceDir(r)
	if target, err := os.Readlink(filepath.Join(svcDir, VenvLink)); err != nil || target != pkgDir {
		t.Fatalf("venv = (%q, %v), want %q", target, err, pkgDir)
	}
	if ok, _ := paths.DirExists(filepath.Join(svcDir, EtcDir)); !ok {
		t.Fatal("expected etc directory")
	}

	changed, err = l.Refer(r)
	if err != nil || changed {
		t.Fatalf("second Refer = (%v, %v), want unchanged", changed, err)
	}
}

func TestReferErrors(t *testing.T) {
	l := newLinker(t)
	r := svcRef("nova", "nova-api", "2.0.0")
	if _, err := l.Refer(r); !errors.Is(err, errs.ErrPackageNotExpanded) {
		t.Fatalf("expected ErrPackageNotExpanded, got %v", err)
	}

	expanded(t, l.Layout, "nova", "2.0.0", "2.0.0")
	if err := os.MkdirAll(l.Layout.ServiceDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(l.Layout.Service("nova-api-2.0.0"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Refer(r); !errors.Is(err, errs.ErrTargetConflict) {
		t.Fatalf("expected ErrTargetConflict, got %v", err)
	}

	if _, err := l.Refer(pkgref.Ref{Package: "nova", Service: "nova-api"}); !errors.Is(err, errs.ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestCountRefs(t *testing.T) {
	l := newLinker(t)
	expanded(t, l.Layout, "nova", "2.0.0", "2.0.0")
	expanded(t, l.Layout, "nova", "2.1.0", "2.1.0")
	for _, r := range []pkgref.Ref{
		svcRef("nova", "nova-conductor", "2.0.0"),
		svcRef("nova", "nova-api", "2.0.0"),
		svcRef("nova", "nova-api", "2.1.0"),
	} {
		if _, err := l.Refer(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(l.Layout.Service("stray"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := l.CountRefs(svcRef("nova", "", "2.0.0"))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"nova-api-2.0.0", "nova-conductor-2.0.0"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CountRefs = %v, want %v", got, want)
	}
}

func TestRemoveService(t *testing.T) {
	l := newLinker(t)
	expanded(t, l.Layout, "nova", "2.0.0", "2.0.0")
	r := svcRef("nova", "nova-api", "2.0.0")
	if _, err := l.Refer(r); err != nil {
		t.Fatal(err)
	}

	if _, err := l.Services.Activate(r); err != nil {
		t.Fatal(err)
	}
	if _, _, err := l.Remove(r); !errors.Is(err, errs.ErrActiveVersionRemoval) {
		t.Fatalf("expected ErrActiveVersionRemoval, got %v", err)
	}
	if _, err := l.Services.Deactivate(r); err != nil {
		t.Fatal(err)
	}

	unsuffixed := pkgref.Ref{Package: "nova", Service: "nova-api", Version: version.MustParse("2.0.0")}
	changed, got, err := l.Remove(unsuffixed)
	if err != nil || !changed || got.Suffix != "2.0.0" {
		t.Fatalf("Remove = (%v, %+v, %v)", changed, got, err)
	}
	changed, _, err = l.Remove(unsuffixed)
	if err != nil || changed {
		t.Fatalf("second Remove = (%v, %v), want unchanged", changed, err)
	}
}

func TestSharedPackageRemovableOnlyWhenUnreferenced(t *testing.T) {
	l := newLinker(t)
	expanded(t, l.Layout, "nova", "2.0.0", "2.0.0")
	exp := &expand.Expander{
		Layout:   l.Layout,
		Packages: &activate.Pointers{Base: l.Layout.PackageDir, Kind: activate.Packages, Table: version.DefaultGuessTable()},
		Refs:     l,
	}
	api := svcRef("nova", "nova-api", "2.0.0")
	conductor := svcRef("nova", "nova-conductor", "2.0.0")
	for _, r := range []pkgref.Ref{api, conductor} {
		if _, err := l.Refer(r); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := exp.Remove(api); !errors.Is(err, errs.ErrPackageInUse) {
		t.Fatalf("expected ErrPackageInUse with two references, got %v", err)
	}
	if _, _, err := l.Remove(api); err != nil {
		t.Fatal(err)
	}
	if _, err := exp.Remove(api); !errors.Is(err, errs.ErrPackageInUse) {
		t.Fatalf("expected ErrPackageInUse with one reference, got %v", err)
	}
	if _, _, err := l.Remove(conductor); err != nil {
		t.Fatal(err)
	}
	if changed, err := exp.Remove(api); err != nil || !changed {
		t.Fatalf("Remove after last reference = (%v, %v)", changed, err)
	}
}
