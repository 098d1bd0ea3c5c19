package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

func errPanic(p interface{}) error {
	if err, ok := p.(error); ok {
		return err
	}
	return fmt.Errorf("%v", p)
}

// ResourceRegistry wraps Registry with URI-template matching (spec.md
// §4.3): a resource can be registered under a literal URI or a template
// containing {variable} placeholders, each matching any run of non-"/"
// characters. Lookup tries an exact match first, then templates in
// registration order.
type ResourceRegistry struct {
	exact     *Registry
	templates []*resourceTemplate
}

type resourceTemplate struct {
	raw   string
	re    *regexp.Regexp
	names []string
	entry *Entry
}

var templateVarPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// NewResourceRegistry creates an empty resource registry.
func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{exact: New()}
}

// Register adds a resource under uri, which may be a literal URI or contain
// {variable} placeholders. Literal URIs are last-write-wins; templates
// accumulate in registration order and are matched in that order, so the
// first registered template that matches wins.
func (r *ResourceRegistry) Register(uri string, entry *Entry) {
	entry.Name = uri
	if !strings.Contains(uri, "{") {
		r.exact.Register(entry)
		return
	}
	var names []string
	var pattern strings.Builder
	pattern.WriteByte('^')
	rest := uri
	for {
		loc := templateVarPattern.FindStringSubmatchIndex(rest)
		if loc == nil {
			pattern.WriteString(regexp.QuoteMeta(rest))
			break
		}
		pattern.WriteString(regexp.QuoteMeta(rest[:loc[0]]))
		names = append(names, rest[loc[2]:loc[3]])
		pattern.WriteString(`([^/]+)`)
		rest = rest[loc[1]:]
	}
	pattern.WriteByte('$')
	re, err := regexp.Compile(pattern.String())
	if err != nil {
		// Malformed template: register nothing rather than panic; callers
		// see it missing from Match and can surface a registration error.
		return
	}
	r.templates = append(r.templates, &resourceTemplate{raw: uri, re: re, names: names, entry: entry})
}

// Match resolves uri to its entry and extracted template variables (nil for
// an exact match), or returns ok=false.
func (r *ResourceRegistry) Match(uri string) (entry *Entry, vars map[string]string, ok bool) {
	if e := r.exact.Get(uri); e != nil {
		return e, nil, true
	}
	for _, t := range r.templates {
		m := t.re.FindStringSubmatch(uri)
		if m == nil {
			continue
		}
		vars = map[string]string{}
		for i, name := range t.names {
			vars[name] = m[i+1]
		}
		return t.entry, vars, true
	}
	return nil, nil, false
}

// List returns metadata for exact entries followed by templates, in their
// respective registration orders.
func (r *ResourceRegistry) List(annotationsEnabled bool) []Metadata {
	out := r.exact.List(annotationsEnabled)
	for _, t := range r.templates {
		m := Metadata{Name: t.entry.Name, Schema: t.entry.Schema}
		if annotationsEnabled {
			m.Annotations = t.entry.Annotations
		}
		out = append(out, m)
	}
	return out
}

// Execute resolves uri (exact or template) and invokes its handler. Matched
// template variables are merged into params under "_templateVars" so the
// handler can read them without a dedicated call signature.
func (r *ResourceRegistry) Execute(ctx context.Context, uri string, params json.RawMessage, rc *RequestContext) (interface{}, error) {
	entry, vars, ok := r.Match(uri)
	if !ok {
		return nil, &NotFoundError{Name: uri}
	}
	if len(vars) > 0 {
		params = mergeTemplateVars(params, vars)
	}
	return execute(ctx, entry, uri, params, rc)
}

func execute(ctx context.Context, entry *Entry, name string, params json.RawMessage, rc *RequestContext) (result interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &ExecutionError{Name: name, Err: errPanic(p)}
		}
	}()
	result, err = entry.Handler(ctx, params, rc)
	if err != nil {
		return nil, &ExecutionError{Name: name, Err: err}
	}
	return result, nil
}

func mergeTemplateVars(params json.RawMessage, vars map[string]string) json.RawMessage {
	var obj map[string]interface{}
	if len(params) > 0 {
		_ = json.Unmarshal(params, &obj)
	}
	if obj == nil {
		obj = map[string]interface{}{}
	}
	obj["_templateVars"] = vars
	merged, err := json.Marshal(obj)
	if err != nil {
		return params
	}
	return merged
}
