// Package installer composes the cache, package store, service store and
// activation pointers into the idempotent install, uninstall and activate
// operations.
package installer

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"packager/internal/activate"
	"packager/internal/archive"
	"packager/internal/cache"
	"packager/internal/config"
	"packager/internal/errs"
	"packager/internal/expand"
	"packager/internal/logx"
	"packager/internal/metrics"
	"packager/internal/paths"
	"packager/internal/pkgref"
	"packager/internal/service"
	"packager/pkg/version"
)

// Result is the outcome of one operation.
type Result struct {
	Changed bool
	Ref     pkgref.Ref
}

// Options customises New.
type Options struct {
	// Group and ModeBits override install.group and install.extra_mode_bits.
	Group    string
	ModeBits string
	Client   *http.Client
	Chown    archive.ChownFunc
	RunID    string
	Logger   *log.Logger
	Metrics  metrics.Recorder
}

// Installer runs operations against one host layout. It does no locking:
// callers must not run two mutating operations on the same name at once.
type Installer struct {
	Layout   paths.Layout
	Table    version.GuessTable
	Cache    *cache.Store
	Expander *expand.Expander
	Linker   *service.Linker
	Services *activate.Pointers

	// Group and ModeBits are the extraction defaults, as configured.
	Group    string
	ModeBits string
	RunID    string

	Logger  *log.Logger
	Metrics metrics.Recorder
}

// New wires an Installer from configuration.
func New(cfg config.Config, opts Options) (*Installer, error) {
	logger := logx.OrDiscard(opts.Logger)
	recorder := metrics.OrNoop(opts.Metrics)

	table, err := cfg.GuessTable()
	if err != nil {
		return nil, errs.New(errs.ErrConfig, "load version table").At(cfg.Versions.File).Wrap(err)
	}
	group := firstNonEmpty(opts.Group, cfg.Install.Group)
	gid, err := expand.LookupGID(group)
	if err != nil {
		return nil, err
	}
	modeBits := firstNonEmpty(opts.ModeBits, cfg.Install.ModeBits, "000")
	bits, err := config.ParseModeBits(modeBits)
	if err != nil {
		return nil, errs.New(errs.ErrConfig, "parse extra_mode_bits").Wrap(err)
	}

	layout := paths.FromConfig(cfg)
	store := &cache.Store{
		Layout:          layout,
		RepoURL:         cfg.RepoURL(),
		Client:          opts.Client,
		Timeout:         cfg.Timeout(),
		DownloadTimeout: cfg.DownloadTimeout(),
		UserAgent:       cfg.Network.UserAgent,
		Logger:          logger,
		Metrics:         recorder,
	}
	services := &activate.Pointers{Base: layout.ServiceDir, Kind: activate.Services, Table: table, Logger: logger}
	linker := &service.Linker{Layout: layout, Services: services, Logger: logger}
	expander := &expand.Expander{
		Layout:    layout,
		Cache:     store,
		Packages:  &activate.Pointers{Base: layout.PackageDir, Kind: activate.Packages, Table: table, Logger: logger},
		Refs:      linker,
		GID:       gid,
		ExtraMode: bits,
		Chown:     opts.Chown,
		Logger:    logger,
		Metrics:   recorder,
	}
	return &Installer{
		Layout:   layout,
		Table:    table,
		Cache:    store,
		Expander: expander,
		Linker:   linker,
		Services: services,
		Group:    firstNonEmpty(group, "root"),
		ModeBits: modeBits,
		RunID:    opts.RunID,
		Logger:   logger,
		Metrics:  recorder,
	}, nil
}

// WithExtraction returns a copy of in that extracts with a different
// group and extra mode bits. Empty arguments keep the current values.
func (in *Installer) WithExtraction(group, modeBits string) (*Installer, error) {
	exp := *in.Expander
	if group != "" {
		gid, err := expand.LookupGID(group)
		if err != nil {
			return nil, err
		}
		exp.GID = gid
	}
	if modeBits != "" {
		bits, err := config.ParseModeBits(modeBits)
		if err != nil {
			return nil, errs.New(errs.ErrInvalidRequest, "parse extra_mode_bits").Wrap(err)
		}
		exp.ExtraMode = bits
	}
	out := *in
	out.Expander = &exp
	out.Group = firstNonEmpty(group, in.Group)
	out.ModeBits = firstNonEmpty(modeBits, in.ModeBits)
	return &out, nil
}

func (in *Installer) logger() *log.Logger { return logx.OrDiscard(in.Logger) }

func (in *Installer) observe(op string, start time.Time, err error) {
	metrics.OrNoop(in.Metrics).ObserveOperation(op, metrics.Result(err), time.Since(start))
}

// Install expands ref's package and creates its service directory. It
// reports unchanged when the service is already active at that version.
func (in *Installer) Install(ctx context.Context, ref pkgref.Ref) (res Result, err error) {
	const op = "install"
	defer func(start time.Time) { in.observe(op, start, err) }(time.Now())
	if err := ref.Require(op, pkgref.FieldPackage, pkgref.FieldService); err != nil {
		return Result{Ref: ref}, err
	}

	exploded, ref, err := in.Expander.Explode(ctx, ref)
	if err != nil {
		return Result{Ref: ref}, err
	}
	referred, err := in.Linker.Refer(ref)
	if err != nil {
		return Result{Ref: ref}, err
	}
	changed := exploded || referred

	current, ok, err := in.Services.ActiveVersion(ref.Service)
	if err != nil {
		return Result{Changed: changed, Ref: ref}, err
	}
	if ok && current.Equal(ref.Version) {
		changed = false
	}
	in.logger().Info("install finished", "ref", ref.String(), "changed", changed)
	return Result{Changed: changed, Ref: ref}, nil
}

// Uninstall removes ref's service directory, deactivating it first when
// it is the active version, and removes the package directory once no
// service directory links to it.
func (in *Installer) Uninstall(ctx context.Context, ref pkgref.Ref) (res Result, err error) {
	const op = "uninstall"
	defer func(start time.Time) { in.observe(op, start, err) }(time.Now())
	if err := ref.Require(op, pkgref.FieldPackage, pkgref.FieldService); err != nil {
		return Result{Ref: ref}, err
	}
	ref, err = in.resolveSuffixOnly(ref)
	if errors.Is(err, errs.ErrMissingExpansion) {
		return Result{Ref: ref}, nil
	}
	if err != nil {
		return Result{Ref: ref}, err
	}

	var changed bool
	current, ok, err := in.Services.ActiveVersion(ref.Service)
	if err != nil {
		return Result{Ref: ref}, err
	}
	if ok && (ref.Latest || current.Equal(ref.Version)) {
		ref = ref.WithVersion(current)
		if _, err := in.Services.Deactivate(ref); err != nil {
			return Result{Ref: ref}, err
		}
		changed = true
	}

	removed, ref, err := in.Linker.Remove(ref)
	if err != nil {
		return Result{Changed: changed, Ref: ref}, err
	}
	changed = changed || removed

	if ref.Suffix == "" {
		resolved, err := in.Expander.Packages.EnsureSuffix(ref)
		if errors.Is(err, errs.ErrMissingExpansion) {
			return Result{Changed: changed, Ref: ref}, nil
		}
		if err != nil {
			return Result{Changed: changed, Ref: ref}, err
		}
		ref = resolved
	}
	users, err := in.Linker.CountRefs(ref)
	if err != nil {
		return Result{Changed: changed, Ref: ref}, err
	}
	if len(users) == 0 {
		removed, err := in.Expander.Remove(ref)
		if err != nil {
			return Result{Changed: changed, Ref: ref}, err
		}
		changed = changed || removed
	} else {
		in.logger().Debug("package still referenced", "package", ref.PackageDirName(), "services", users)
	}
	in.logger().Info("uninstall finished", "ref", ref.String(), "changed", changed)
	return Result{Changed: changed, Ref: ref}, nil
}

// ActivateInstall points ref's service at ref's version, deactivating
// whatever version was active before. Files of the previous version are
// kept.
func (in *Installer) ActivateInstall(ctx context.Context, ref pkgref.Ref) (res Result, err error) {
	const op = "activate"
	defer func(start time.Time) { in.observe(op, start, err) }(time.Now())
	if err := ref.Require(op, pkgref.FieldPackage, pkgref.FieldService); err != nil {
		return Result{Ref: ref}, err
	}
	ref, err = in.resolveSuffixOnly(ref)
	if err != nil {
		return Result{Ref: ref}, err
	}
	if ref.Latest || !ref.HasVersion() {
		ref, err = in.Services.EnsureSuffix(ref)
		if err != nil {
			return Result{Ref: ref}, err
		}
	}

	current, ok, err := in.Services.ActiveVersion(ref.Service)
	if err != nil {
		return Result{Ref: ref}, err
	}
	if ok && current.Equal(ref.Version) {
		in.logger().Debug("already active", "service", ref.Service, "version", current.String())
		return Result{Ref: ref}, nil
	}
	if ok {
		previous := pkgref.Ref{Package: ref.Package, Service: ref.Service, Version: current}
		if _, err := in.Services.Deactivate(previous); err != nil {
			return Result{Ref: ref}, err
		}
	}
	ref, err = in.Services.Activate(ref)
	if err != nil {
		return Result{Changed: ok, Ref: ref}, err
	}
	return Result{Changed: true, Ref: ref}, nil
}

// Deactivate removes ref's activation pointer.
func (in *Installer) Deactivate(ctx context.Context, ref pkgref.Ref) (res Result, err error) {
	const op = "deactivate"
	defer func(start time.Time) { in.observe(op, start, err) }(time.Now())
	ref, err = in.resolveSuffixOnly(ref)
	if err != nil {
		return Result{Ref: ref}, err
	}
	changed, err := in.Services.Deactivate(ref)
	return Result{Changed: changed, Ref: ref}, err
}

// CacheUpdate refreshes the local copy of the remote index.
func (in *Installer) CacheUpdate(ctx context.Context) (res Result, err error) {
	const op = "cache_update"
	defer func(start time.Time) { in.observe(op, start, err) }(time.Now())
	changed, err := in.Cache.Update(ctx)
	return Result{Changed: changed}, err
}

// Clean uninstalls every version of ref's service other than the active
// one, removing package directories left without references.
func (in *Installer) Clean(ctx context.Context, ref pkgref.Ref) (res Result, err error) {
	const op = "clean"
	defer func(start time.Time) { in.observe(op, start, err) }(time.Now())
	if err := ref.Require(op, pkgref.FieldPackage, pkgref.FieldService); err != nil {
		return Result{Ref: ref}, err
	}
	entries, err := in.Linker.List(ref.Service)
	if err != nil {
		return Result{Ref: ref}, err
	}
	var changed bool
	for _, e := range entries {
		if e.Active {
			continue
		}
		stale := pkgref.Ref{Package: ref.Package, Service: ref.Service, Suffix: e.Suffix}
		r, err := in.Uninstall(ctx, stale)
		if err != nil {
			return Result{Changed: changed, Ref: ref}, err
		}
		changed = changed || r.Changed
	}
	return Result{Changed: changed, Ref: ref}, nil
}

// resolveSuffixOnly fills the version of a ref that names only a suffix,
// from the service directory or else the package directory.
func (in *Installer) resolveSuffixOnly(ref pkgref.Ref) (pkgref.Ref, error) {
	if ref.HasVersion() || ref.Latest || ref.Suffix == "" {
		return ref, nil
	}
	resolved, err := in.Services.ResolveVersion(ref)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, errs.ErrMissingExpansion) {
		return ref, err
	}
	return in.Expander.Packages.ResolveVersion(ref)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
