// Package router is a small fasthttp router with {param} path segments,
// method dispatch and middleware.
package router

import (
	"sort"
	"strings"

	"github.com/valyala/fasthttp"
)

// Middleware wraps a handler.
type Middleware func(fasthttp.RequestHandler) fasthttp.RequestHandler

type Router struct {
	routes     map[string][]route
	middleware []Middleware
	notFound   fasthttp.RequestHandler
}

type route struct {
	segments []segment
	handler  fasthttp.RequestHandler
}

type segment struct {
	name    string
	isParam bool
}

func New() *Router {
	return &Router{routes: make(map[string][]route)}
}

// Use appends middleware applied to every route registered afterwards.
func (r *Router) Use(mw ...Middleware) {
	r.middleware = append(r.middleware, mw...)
}

// Handler satisfies the fasthttp.Server handler interface.
func (r *Router) Handler(ctx *fasthttp.RequestCtx) {
	parts := split(string(ctx.Path()))
	if rt, ok := r.lookup(string(ctx.Method()), parts); ok {
		bind(ctx, rt.segments, parts)
		rt.handler(ctx)
		return
	}
	if allowed := r.allowed(parts); len(allowed) > 0 {
		ctx.Response.Header.Set("Allow", strings.Join(allowed, ", "))
		WriteJSONError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if r.notFound != nil {
		r.notFound(ctx)
		return
	}
	WriteJSONError(ctx, fasthttp.StatusNotFound, "not found")
}

func (r *Router) GET(path string, h fasthttp.RequestHandler) { r.add(fasthttp.MethodGet, path, h) }
func (r *Router) POST(path string, h fasthttp.RequestHandler) { r.add(fasthttp.MethodPost, path, h) }
func (r *Router) PUT(path string, h fasthttp.RequestHandler) { r.add(fasthttp.MethodPut, path, h) }
func (r *Router) DELETE(path string, h fasthttp.RequestHandler) { r.add(fasthttp.MethodDelete, path, h) }

// NotFound registers a handler for unmatched routes.
func (r *Router) NotFound(h fasthttp.RequestHandler) {
	r.notFound = h
}

func (r *Router) add(method, path string, h fasthttp.RequestHandler) {
	for i := len(r.middleware) - 1; i >= 0; i-- {
		h = r.middleware[i](h)
	}
	r.routes[method] = append(r.routes[method], route{segments: parse(path), handler: h})
}

func (r *Router) lookup(method string, parts []string) (route, bool) {
	for _, rt := range r.routes[method] {
		if match(parts, rt.segments) {
			return rt, true
		}
	}
	return route{}, false
}

func (r *Router) allowed(parts []string) []string {
	var out []string
	for method, list := range r.routes {
		for _, rt := range list {
			if match(parts, rt.segments) {
				out = append(out, method)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func parse(path string) []segment {
	parts := split(path)
	segs := make([]segment, len(parts))
	for i, part := range parts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") && len(part) > 2 {
			segs[i] = segment{name: part[1 : len(part)-1], isParam: true}
		} else {
			segs[i] = segment{name: part}
		}
	}
	return segs
}

func match(parts []string, segs []segment) bool {
	if len(parts) != len(segs) {
		return false
	}
	for i, seg := range segs {
		if seg.isParam {
			if parts[i] == "" {
				return false
			}
			continue
		}
		if seg.name != parts[i] {
			return false
		}
	}
	return true
}

func bind(ctx *fasthttp.RequestCtx, segs []segment, parts []string) {
	for i, seg := range segs {
		if seg.isParam {
			ctx.SetUserValue(seg.name, parts[i])
		}
	}
}

// Param returns the path parameter name bound by the router.
func Param(ctx *fasthttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}
