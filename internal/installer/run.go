package installer

import (
	"context"

	"packager/internal/config"
	"packager/internal/errs"
	"packager/internal/pkgref"
)

// VersionInfo is the structured version report kept for older callers.
type VersionInfo struct {
	Version string `json:"version,omitempty"`
	Suffix  string `json:"suffix,omitempty"`
	V       int    `json:"v"`
}

// Response reports the outcome of Run.
type Response struct {
	Changed   bool   `json:"changed"`
	Failed    bool   `json:"failed,omitempty"`
	Msg       string `json:"msg,omitempty"`
	Exception string `json:"exception,omitempty"`
	Category  string `json:"category,omitempty"`
	Code      string `json:"code,omitempty"`

	State          string       `json:"state,omitempty"`
	Name           string       `json:"name,omitempty"`
	Service        string       `json:"service,omitempty"`
	Group          string       `json:"group"`
	ExtraModeBits  uint32       `json:"extra_mode_bits"`
	PackageVersion string       `json:"package_version,omitempty"`
	Suffix         string       `json:"suffix,omitempty"`
	Version        *VersionInfo `json:"version,omitempty"`
	Cache          string       `json:"cache,omitempty"`
	Clean          bool         `json:"clean"`
	RunID          string       `json:"run_id,omitempty"`
}

const (
	msgInstallFailed    = "Installation failed"
	msgActivationFailed = "Activation failed"
	msgCleanFailed      = "Clean failed"
)

// Run executes a request: an optional cache update, then the requested
// state, then activation unless the package is being removed or
// activation was switched off. A cache update does not end the request,
// so one request can refresh the index and install from it. It never
// returns an error; failures are reported in the Response.
func (in *Installer) Run(ctx context.Context, req Request) Response {
	resp := Response{
		State:   req.State,
		Name:    req.Name,
		Service: req.Service,
		Group:   firstNonEmpty(req.Group, in.Group),
		Cache:   req.Cache,
		Clean:   req.Clean,
		RunID:   in.RunID,
	}
	if bits, err := config.ParseModeBits(firstNonEmpty(req.ExtraModeBits, in.ModeBits)); err == nil {
		resp.ExtraModeBits = bits
	}
	logger := in.logger().With("request", req.String())

	fail := func(msg string, ref pkgref.Ref, err error) Response {
		logger.Error(msg, "err", err)
		resp.Failed = true
		resp.Msg = msg
		resp.Exception = err.Error()
		resp.Category = string(errs.CategoryOf(err))
		resp.Code = errs.Code(err)
		resp.report(ref)
		return resp
	}

	ref, err := req.Ref()
	if err != nil {
		return fail(msgInstallFailed, ref, err)
	}
	inst, err := in.WithExtraction(req.Group, req.ExtraModeBits)
	if err != nil {
		return fail(msgInstallFailed, ref, err)
	}

	if req.Cache == CacheOpUpdate {
		res, err := inst.CacheUpdate(ctx)
		if err != nil {
			return fail(msgInstallFailed, ref, err)
		}
		resp.Changed = resp.Changed || res.Changed
	}

	switch req.State {
	case StatePresent:
		res, err := inst.Install(ctx, ref)
		if err != nil {
			return fail(msgInstallFailed, res.Ref, err)
		}
		ref = res.Ref
		resp.Changed = resp.Changed || res.Changed
	case StateAbsent:
		res, err := inst.Uninstall(ctx, ref)
		if err != nil {
			return fail(msgInstallFailed, res.Ref, err)
		}
		ref = res.Ref
		resp.Changed = resp.Changed || res.Changed
	}

	named := req.Name != "" && req.Service != ""
	if req.State != StateAbsent && req.Activate == ActOn && named {
		res, err := inst.ActivateInstall(ctx, ref)
		if err != nil {
			return fail(msgActivationFailed, res.Ref, err)
		}
		ref = res.Ref
		resp.Changed = resp.Changed || res.Changed
	}

	if req.Clean && req.State != StateAbsent && named {
		res, err := inst.Clean(ctx, ref)
		if err != nil {
			return fail(msgCleanFailed, ref, err)
		}
		resp.Changed = resp.Changed || res.Changed
	}

	resp.report(ref)
	logger.Info("request finished", "changed", resp.Changed)
	return resp
}

func (r *Response) report(ref pkgref.Ref) {
	if ref.HasVersion() {
		r.PackageVersion = ref.Version.String()
	}
	r.Suffix = ref.Suffix
	r.Version = &VersionInfo{Version: r.PackageVersion, Suffix: ref.Suffix, V: 1}
}
