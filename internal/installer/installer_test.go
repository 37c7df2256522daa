package installer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"packager/internal/cache/cachetest"
	"packager/internal/config"
	"packager/internal/errs"
	"packager/internal/metrics"
	"packager/internal/pkgref"
	"packager/pkg/version"
)

func noChown(string, int, int) error { return nil }

type harness struct {
	repo *cachetest.Repo
	in   *Installer
	prom *metrics.Prom
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := cachetest.NewRepo(t)
	repo.Add("nova", "2.0.0")
	repo.Add("nova", "2.1.0")

	root := t.TempDir()
	cfg := config.Default()
	cfg.Repo.URL = repo.URL
	cfg.Install.Dir = filepath.Join(root, "venv")
	cfg.Install.Cache = filepath.Join(root, "cache")
	cfg.Components.Dir = filepath.Join(root, "service")

	prom := metrics.NewProm("packager")
	in, err := New(cfg, Options{Chown: noChown, Metrics: prom, RunID: "test-run"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{repo: repo, in: in, prom: prom}
}

func (h *harness) pointer(t *testing.T, name string) string {
	t.Helper()
	target, err := os.Readlink(filepath.Join(h.in.Layout.ServiceDir, name))
	if os.IsNotExist(err) {
		return ""
	}
	if err != nil {
		t.Fatal(err)
	}
	return target
}

func (h *harness) exists(t *testing.T, p string) bool {
	t.Helper()
	_, err := os.Lstat(p)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	return err == nil
}

func novaAPI(ver string) pkgref.Ref {
	return pkgref.Ref{Package: "nova", Service: "nova-api", Version: version.MustParse(ver)}
}

func TestInstallActivateUpgradeUninstall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := h.in

	if res, err := in.CacheUpdate(ctx); err != nil || !res.Changed {
		t.Fatalf("CacheUpdate = (%+v, %v)", res, err)
	}

	res, err := in.Install(ctx, novaAPI("2.0.0"))
	if err != nil || !res.Changed {
		t.Fatalf("Install(2.0.0) = (%+v, %v)", res, err)
	}
	pkgDir := in.Layout.Package("nova-2.0.0")
	if venv, err := os.Readlink(in.Layout.Service(filepath.Join("nova-api-2.0.0", "venv"))); err != nil || venv != pkgDir {
		t.Fatalf("venv = (%q, %v), want %q", venv, err, pkgDir)
	}
	if res, err := in.ActivateInstall(ctx, res.Ref); err != nil || !res.Changed {
		t.Fatalf("ActivateInstall(2.0.0) = (%+v, %v)", res, err)
	}
	if got := h.pointer(t, "nova-api"); got != "nova-api-2.0.0" {
		t.Fatalf("pointer = %q", got)
	}

	res, err = in.Install(ctx, novaAPI("2.0.0"))
	if err != nil || res.Changed {
		t.Fatalf("repeated Install = (%+v, %v), want unchanged", res, err)
	}
	if res, err := in.ActivateInstall(ctx, res.Ref); err != nil || res.Changed {
		t.Fatalf("repeated ActivateInstall = (%+v, %v), want unchanged", res, err)
	}

	res, err = in.Install(ctx, novaAPI("2.1.0"))
	if err != nil || !res.Changed {
		t.Fatalf("Install(2.1.0) = (%+v, %v)", res, err)
	}
	if res, err := in.ActivateInstall(ctx, res.Ref); err != nil || !res.Changed {
		t.Fatalf("ActivateInstall(2.1.0) = (%+v, %v)", res, err)
	}
	if got := h.pointer(t, "nova-api"); got != "nova-api-2.1.0" {
		t.Fatalf("pointer after upgrade = %q", got)
	}

	if res, err := in.Uninstall(ctx, novaAPI("2.0.0")); err != nil || !res.Changed {
		t.Fatalf("Uninstall(2.0.0) = (%+v, %v)", res, err)
	}
	if h.exists(t, in.Layout.Service("nova-api-2.0.0")) || h.exists(t, pkgDir) {
		t.Fatal("2.0.0 directories should be gone")
	}
	if !h.exists(t, in.Layout.Package("nova-2.1.0")) {
		t.Fatal("2.1.0 package must survive")
	}

	if res, err := in.Uninstall(ctx, novaAPI("2.1.0")); err != nil || !res.Changed {
		t.Fatalf("Uninstall(active 2.1.0) = (%+v, %v)", res, err)
	}
	if got := h.pointer(t, "nova-api"); got != "" {
		t.Fatalf("pointer should be gone, got %q", got)
	}
	if res, err := in.Uninstall(ctx, novaAPI("2.1.0")); err != nil || res.Changed {
		t.Fatalf("repeated Uninstall = (%+v, %v), want unchanged", res, err)
	}
}

func TestUninstallKeepsSharedPackage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := h.in
	if _, err := in.CacheUpdate(ctx); err != nil {
		t.Fatal(err)
	}
	for _, svc := range []string{"nova-api", "nova-conductor"} {
		if _, err := in.Install(ctx, pkgref.Ref{Package: "nova", Service: svc, Version: version.MustParse("2.0.0")}); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := in.Uninstall(ctx, novaAPI("2.0.0")); err != nil {
		t.Fatal(err)
	}
	if !h.exists(t, in.Layout.Package("nova-2.0.0")) {
		t.Fatal("package still referenced by nova-conductor was removed")
	}
	conductor := pkgref.Ref{Package: "nova", Service: "nova-conductor", Version: version.MustParse("2.0.0")}
	if _, err := in.Uninstall(ctx, conductor); err != nil {
		t.Fatal(err)
	}
	if h.exists(t, in.Layout.Package("nova-2.0.0")) {
		t.Fatal("unreferenced package should be removed")
	}
}

func TestActivateBySuffixResolvesVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := h.in
	if _, err := in.CacheUpdate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := in.Install(ctx, novaAPI("2.0.0")); err != nil {
		t.Fatal(err)
	}
	bySuffix := pkgref.Ref{Package: "nova", Service: "nova-api", Suffix: "2.0.0"}
	res, err := in.ActivateInstall(ctx, bySuffix)
	if err != nil || !res.Changed || res.Ref.Version.String() != "2.0.0" {
		t.Fatalf("ActivateInstall(suffix) = (%+v, %v)", res, err)
	}
	res, err = in.ActivateInstall(ctx, bySuffix)
	if err != nil || res.Changed {
		t.Fatalf("repeated ActivateInstall(suffix) = (%+v, %v), want unchanged", res, err)
	}
}

func TestActivateMissingServiceDirectory(t *testing.T) {
	h := newHarness(t)
	_, err := h.in.ActivateInstall(context.Background(), novaAPI("2.0.0"))
	if !errors.Is(err, errs.ErrMissingExpansion) {
		t.Fatalf("expected ErrMissingExpansion, got %v", err)
	}
}

func TestCleanRemovesInactiveVersions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := h.in
	if _, err := in.CacheUpdate(ctx); err != nil {
		t.Fatal(err)
	}
	for _, v := range []string{"2.0.0", "2.1.0"} {
		res, err := in.Install(ctx, novaAPI(v))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := in.ActivateInstall(ctx, res.Ref); err != nil {
			t.Fatal(err)
		}
	}

	res, err := in.Clean(ctx, pkgref.Ref{Package: "nova", Service: "nova-api"})
	if err != nil || !res.Changed {
		t.Fatalf("Clean = (%+v, %v)", res, err)
	}
	if h.exists(t, in.Layout.Service("nova-api-2.0.0")) || h.exists(t, in.Layout.Package("nova-2.0.0")) {
		t.Fatal("inactive version should be removed")
	}
	if !h.exists(t, in.Layout.Service("nova-api-2.1.0")) {
		t.Fatal("active version must be kept")
	}
}

func TestOperationsAreCounted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.in.CacheUpdate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := h.in.Install(ctx, novaAPI("9.9.9")); !errors.Is(err, errs.ErrUnknownVersion) {
		t.Fatalf("expected ErrUnknownVersion, got %v", err)
	}
	if _, err := h.in.Install(ctx, novaAPI("2.0.0")); err != nil {
		t.Fatal(err)
	}

	n, err := testutil.GatherAndCount(h.prom.Registry(), "packager_operations_total")
	if err != nil {
		t.Fatal(err)
	}
	// cache_update/ok, install/error, install/ok
	if n != 3 {
		t.Fatalf("operation series = %d, want 3", n)
	}
	if n, _ := testutil.GatherAndCount(h.prom.Registry(), "packager_downloads_total"); n != 1 {
		t.Fatalf("download series = %d, want 1", n)
	}
}
