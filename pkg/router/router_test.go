package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func request(r *Router, method, path string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	r.Handler(&ctx)
	return &ctx
}

func TestParamsAndMethods(t *testing.T) {
	r := New()
	r.GET("/v1/conversations/{id}", func(ctx *fasthttp.RequestCtx) {
		_ = WriteJSON(ctx, map[string]string{"id": Param(ctx, "id")})
	})
	r.DELETE("/v1/messages/{id}", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	})

	ctx := request(r, "GET", "/v1/conversations/c-1")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var body map[string]string
	assert.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
	assert.Equal(t, "c-1", body["id"])

	ctx = request(r, "DELETE", "/v1/messages/tmp-1/")
	assert.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())

	ctx = request(r, "POST", "/v1/conversations/c-1")
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
	assert.Equal(t, "GET", string(ctx.Response.Header.Peek("Allow")))

	ctx = request(r, "GET", "/v1/conversations")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestMiddlewareOrder(t *testing.T) {
	r := New()
	var order []string
	mw := func(name string) Middleware {
		return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
			return func(ctx *fasthttp.RequestCtx) {
				order = append(order, name)
				next(ctx)
			}
		}
	}
	r.Use(mw("outer"), mw("inner"))
	r.GET("/", func(ctx *fasthttp.RequestCtx) { order = append(order, "handler") })

	request(r, "GET", "/")
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
