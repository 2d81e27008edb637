package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
)

// Middleware is a stage unit.
type Middleware func(http.Handler) http.Handler

type mountKind uint8

const (
	mountGlobal mountKind = iota
	mountPrefix
	mountExact
)

// Mount decides which requests reach a stage. Requests that do not match
// skip the stage without invoking its unit.
type Mount struct {
	kind    mountKind
	path    string
	methods []string
}

// Global mounts a stage for every request.
func Global() Mount { return Mount{kind: mountGlobal} }

// Prefix mounts a stage at path and everything below it. A trailing slash
// on path is ignored, so Prefix("/client/") matches "/client" and
// "/client/app.js" but not "/clientele".
func Prefix(path string) Mount {
	return Mount{kind: mountPrefix, path: strings.TrimRight(path, "/")}
}

// Exact mounts a stage at a single path, optionally limited to methods.
// GET also admits HEAD.
func Exact(path string, methods ...string) Mount {
	ms := make([]string, 0, len(methods)+1)
	for _, m := range methods {
		m = strings.ToUpper(m)
		if !slices.Contains(ms, m) {
			ms = append(ms, m)
		}
	}
	if slices.Contains(ms, http.MethodGet) && !slices.Contains(ms, http.MethodHead) {
		ms = append(ms, http.MethodHead)
	}
	return Mount{kind: mountExact, path: path, methods: ms}
}

// Scoped reports whether the mount is limited to a path.
func (m Mount) Scoped() bool { return m.kind != mountGlobal }

func (m Mount) Path() string { return m.path }

func (m Mount) Match(r *http.Request) bool {
	p := r.URL.Path
	switch m.kind {
	case mountGlobal:
		return true
	case mountPrefix:
		return m.path == "" || p == m.path || strings.HasPrefix(p, m.path+"/")
	case mountExact:
		if p != m.path {
			return false
		}
		return len(m.methods) == 0 || slices.Contains(m.methods, r.Method)
	}
	return false
}

func (m Mount) String() string {
	switch m.kind {
	case mountPrefix:
		return "prefix " + m.path + "/"
	case mountExact:
		if len(m.methods) > 0 {
			return "exact " + strings.Join(m.methods, ",") + " " + m.path
		}
		return "exact " + m.path
	default:
		return "global"
	}
}

// Stage is one named, mounted unit of the pipeline.
type Stage struct {
	Name  string
	Mount Mount
	Unit  Middleware
}

func (s Stage) String() string { return s.Name + " @ " + s.Mount.String() }

// names the dispatcher reports for responses not produced by a stage
const (
	StageRender = "render"
	StageError  = "error"
)

// Sequence is an ordered, immutable list of stages.
type Sequence struct {
	stages []Stage
}

// NewSequence validates and freezes stages in the given order.
func NewSequence(stages ...Stage) (*Sequence, error) {
	seen := make(map[string]bool, len(stages))
	var errs []error
	for i, st := range stages {
		switch {
		case st.Name == "":
			errs = append(errs, fmt.Errorf("stage %d: empty name", i))
		case st.Name == StageRender || st.Name == StageError:
			errs = append(errs, fmt.Errorf("stage %d: name %q is reserved", i, st.Name))
		case seen[st.Name]:
			errs = append(errs, fmt.Errorf("stage %d: duplicate name %q", i, st.Name))
		}
		if st.Unit == nil {
			errs = append(errs, fmt.Errorf("stage %q: nil unit", st.Name))
		}
		seen[st.Name] = true
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Sequence{stages: slices.Clone(stages)}, nil
}

func (s *Sequence) Len() int { return len(s.stages) }

// Stages returns a copy of the stages in order.
func (s *Sequence) Stages() []Stage { return slices.Clone(s.stages) }

func (s *Sequence) Names() []string {
	out := make([]string, len(s.stages))
	for i, st := range s.stages {
		out[i] = st.Name
	}
	return out
}

// Has reports whether a stage named name is present.
func (s *Sequence) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

func (s *Sequence) Lookup(name string) (Stage, bool) {
	for _, st := range s.stages {
		if st.Name == name {
			return st, true
		}
	}
	return Stage{}, false
}

// Describe renders "name @ mount" per stage; two sequences assembled from
// the same inputs describe identically.
func (s *Sequence) Describe() []string {
	out := make([]string, len(s.stages))
	for i, st := range s.stages {
		out[i] = st.String()
	}
	return out
}
