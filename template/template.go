// Package template implements the `{{ path.to.value }}` interpolation
// substrate used to render request paths, params, headers
// and auth fields against a layered TemplateContext.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// placeholderRe matches `{{ IDENT(.IDENT)* }}` with optional surrounding
// whitespace.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)\s*\}\}`)

// Context is the four-scope variable environment a render walks against:
// config, partition, state and vars. A bare identifier (no dot, or whose
// first segment names none of the scopes) resolves against config first,
// then vars.
type Context struct {
	Config    map[string]interface{}
	Partition map[string]interface{}
	State     map[string]interface{}
	Vars      map[string]interface{}
}

// NewContext returns a Context with all four scopes initialized to empty
// maps, safe to mutate per-partition.
func NewContext() *Context {
	return &Context{
		Config:    map[string]interface{}{},
		Partition: map[string]interface{}{},
		State:     map[string]interface{}{},
		Vars:      map[string]interface{}{},
	}
}

// Clone returns a shallow copy of ctx with a fresh Partition map, matching
// "cloned per-partition with the partition scope mutated".
func (c *Context) Clone() *Context {
	return &Context{
		Config:    c.Config,
		Partition: map[string]interface{}{},
		State:     c.State,
		Vars:      c.Vars,
	}
}

// UndefinedVariableError reports every placeholder a render call could not
// resolve, collected into one error rather than failing on the first.
type UndefinedVariableError struct {
	Names []string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("undefined template variable(s): %s", strings.Join(e.Names, ", "))
}

// Render expands every `{{ ... }}` placeholder in tmpl against ctx. It
// returns an *UndefinedVariableError listing every unresolved name it found,
// collected rather than failing on the first.
func Render(tmpl string, ctx *Context) (string, error) {
	var undefined []string
	var out = placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		var name = placeholderRe.FindStringSubmatch(match)[1]
		v, ok := resolve(name, ctx)
		if !ok {
			undefined = append(undefined, name)
			return match
		}
		return coerce(v)
	})
	if len(undefined) > 0 {
		return "", &UndefinedVariableError{Names: undefined}
	}
	return out, nil
}

// RenderOptional behaves like Render but leaves unresolved placeholders
// verbatim instead of erroring, for diagnostic rendering.
func RenderOptional(tmpl string, ctx *Context) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		var name = placeholderRe.FindStringSubmatch(match)[1]
		v, ok := resolve(name, ctx)
		if !ok {
			return match
		}
		return coerce(v)
	})
}

// RenderValue walks a decoded JSON value (as produced by encoding/json),
// re-rendering every string leaf and every object key through Render. Non-
// string scalars pass through unchanged.
func RenderValue(v interface{}, ctx *Context) (interface{}, error) {
	switch t := v.(type) {
	case string:
		return Render(t, ctx)
	case map[string]interface{}:
		var out = make(map[string]interface{}, len(t))
		for k, val := range t {
			rk, err := Render(k, ctx)
			if err != nil {
				return nil, err
			}
			rv, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			out[rk] = rv
		}
		return out, nil
	case []interface{}:
		var out = make([]interface{}, len(t))
		for i, val := range t {
			rv, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// RenderMap renders every value in a map[string]string, the common shape
// for request params and headers.
func RenderMap(m map[string]string, ctx *Context) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	var out = make(map[string]string, len(m))
	for k, v := range m {
		rv, err := Render(v, ctx)
		if err != nil {
			return nil, err
		}
		out[k] = rv
	}
	return out, nil
}

func resolve(name string, ctx *Context) (interface{}, bool) {
	var segments = strings.Split(name, ".")
	switch segments[0] {
	case "config":
		return lookup(ctx.Config, segments[1:])
	case "partition":
		return lookup(ctx.Partition, segments[1:])
	case "state":
		return lookup(ctx.State, segments[1:])
	case "vars":
		return lookup(ctx.Vars, segments[1:])
	default:
		if v, ok := lookup(ctx.Config, segments); ok {
			return v, true
		}
		return lookup(ctx.Vars, segments)
	}
}

func lookup(root map[string]interface{}, segments []string) (interface{}, bool) {
	if len(segments) == 0 {
		return root, true
	}
	var cur interface{} = root
	for _, seg := range segments {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// coerce renders a resolved value to its template string form: strings
// unchanged, numbers/bools via canonical text, nil to empty, composites to
// compact JSON.
func coerce(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
