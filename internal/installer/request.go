package installer

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"packager/internal/errs"
	"packager/internal/pkgref"
)

// Request states, activation modes and cache operations.
const (
	StatePresent = "present"
	StateAbsent  = "absent"

	ActOn  = "act_on"
	ActOff = "act_off"

	CacheOpUpdate = "update"
)

//go:embed request.schema.json
var requestSchema []byte

const schemaID = "inmemory://packager/request.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaID, bytes.NewReader(requestSchema)); err != nil {
			schemaErr = fmt.Errorf("add request schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaID)
	})
	return compiledSchema, schemaErr
}

// Request is one call from an automation caller, after defaults and
// legacy argument rewriting have been applied.
type Request struct {
	State   string `json:"state,omitempty" yaml:"state,omitempty"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Service string `json:"service,omitempty" yaml:"service,omitempty"`
	// Version is empty or "latest" to select the newest version.
	Version  string `json:"version,omitempty" yaml:"version,omitempty"`
	Suffix   string `json:"suffix,omitempty" yaml:"suffix,omitempty"`
	Cache    string `json:"cache,omitempty" yaml:"cache,omitempty"`
	Activate string `json:"activate,omitempty" yaml:"activate,omitempty"`
	// Group and ExtraModeBits are empty when the configured values apply.
	Group         string `json:"group,omitempty" yaml:"group,omitempty"`
	ExtraModeBits string `json:"extra_mode_bits,omitempty" yaml:"extra_mode_bits,omitempty"`
	Clean         bool   `json:"clean,omitempty" yaml:"clean,omitempty"`
}

type rawRequest struct {
	State         *string         `json:"state"`
	Name          *string         `json:"name"`
	Service       *string         `json:"service"`
	Version       json.RawMessage `json:"version"`
	Suffix        *string         `json:"suffix"`
	Cache         *string         `json:"cache"`
	Activate      *string         `json:"activate"`
	Group         *string         `json:"group"`
	ExtraModeBits *string         `json:"extra_mode_bits"`
	Clean         bool            `json:"clean"`
}

type versionObject struct {
	V       int     `json:"v"`
	Version *string `json:"version"`
	Suffix  *string `json:"suffix"`
}

// ParseRequest decodes a JSON or YAML request document and validates it.
func ParseRequest(data []byte) (Request, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Request{}, errs.New(errs.ErrInvalidRequest, "decode request").Wrap(err)
	}
	return requestFromDocument(doc)
}

// ParsePlan decodes a document holding an ordered "requests" list.
func ParsePlan(data []byte) ([]Request, error) {
	var plan struct {
		Requests []any `yaml:"requests"`
	}
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, errs.New(errs.ErrInvalidRequest, "decode plan").Wrap(err)
	}
	if len(plan.Requests) == 0 {
		return nil, errs.New(errs.ErrInvalidRequest, "decode plan").Wrap(fmt.Errorf("plan has no requests"))
	}
	out := make([]Request, 0, len(plan.Requests))
	for i, doc := range plan.Requests {
		req, err := requestFromDocument(doc)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i+1, err)
		}
		out = append(out, req)
	}
	return out, nil
}

func requestFromDocument(doc any) (Request, error) {
	const op = "validate request"
	if doc == nil {
		doc = map[string]any{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return Request{}, errs.New(errs.ErrInvalidRequest, op).Wrap(err)
	}
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return Request{}, errs.New(errs.ErrInvalidRequest, op).Wrap(err)
	}
	sch, err := loadSchema()
	if err != nil {
		return Request{}, err
	}
	if err := sch.Validate(payload); err != nil {
		return Request{}, errs.New(errs.ErrInvalidRequest, op).Wrap(err)
	}

	var raw rawRequest
	if err := json.Unmarshal(data, &raw); err != nil {
		return Request{}, errs.New(errs.ErrInvalidRequest, op).Wrap(err)
	}
	return raw.normalize()
}

// normalize applies defaults and rewrites the legacy argument shapes: a
// {v: 1, version, suffix} version object, and a bare version string that
// is really a suffix when activating without a state.
func (raw rawRequest) normalize() (Request, error) {
	req := Request{
		State:         deref(raw.State),
		Name:          deref(raw.Name),
		Service:       deref(raw.Service),
		Suffix:        deref(raw.Suffix),
		Cache:         deref(raw.Cache),
		Activate:      deref(raw.Activate),
		Group:         deref(raw.Group),
		ExtraModeBits: deref(raw.ExtraModeBits),
		Clean:         raw.Clean,
	}

	trimmed := bytes.TrimSpace(raw.Version)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
	case trimmed[0] == '{':
		var obj versionObject
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return Request{}, errs.New(errs.ErrInvalidRequest, "decode version").Wrap(err)
		}
		if raw.Suffix == nil {
			req.Suffix = deref(obj.Suffix)
		}
		req.Version = deref(obj.Version)
	default:
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Request{}, errs.New(errs.ErrInvalidRequest, "decode version").Wrap(err)
		}
		if req.Activate == ActOn && raw.State == nil && raw.Suffix == nil {
			req.Suffix = s
		} else {
			req.Version = s
		}
	}

	if req.Activate == "" {
		req.Activate = ActOn
	}
	return req, nil
}

// Ref converts the request into a package reference.
func (r Request) Ref() (pkgref.Ref, error) {
	if r.Version == "" && r.Suffix != "" {
		return pkgref.Ref{Package: r.Name, Service: r.Service, Suffix: r.Suffix}, nil
	}
	ref, err := pkgref.New(r.Name, r.Service, r.Version)
	if err != nil {
		return pkgref.Ref{Package: r.Name, Service: r.Service}, errs.New(errs.ErrInvalidRequest, "parse version").Wrap(err)
	}
	ref.Suffix = r.Suffix
	return ref, nil
}

func (r Request) String() string {
	parts := []string{}
	for _, kv := range [][2]string{
		{"state", r.State}, {"name", r.Name}, {"service", r.Service},
		{"version", r.Version}, {"suffix", r.Suffix}, {"cache", r.Cache}, {"activate", r.Activate},
	} {
		if kv[1] != "" {
			parts = append(parts, kv[0]+"="+kv[1])
		}
	}
	return strings.Join(parts, " ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
