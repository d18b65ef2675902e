package router

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// WriteJSON writes a JSON response with status 200.
func WriteJSON(ctx *fasthttp.RequestCtx, data any) error {
	ctx.Response.Header.Set("Content-Type", "application/json")
	return json.NewEncoder(ctx).Encode(data)
}

// WriteJSONStatus writes data with the given status.
func WriteJSONStatus(ctx *fasthttp.RequestCtx, status int, data any) error {
	ctx.SetStatusCode(status)
	return WriteJSON(ctx, data)
}

// WriteJSONError writes a JSON error response.
func WriteJSONError(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.SetStatusCode(status)
	ctx.Response.Header.Set("Content-Type", "application/json")
	_ = json.NewEncoder(ctx).Encode(map[string]string{"error": message})
}

// DecodeJSON decodes the request body into v, answering 400 on failure.
func DecodeJSON(ctx *fasthttp.RequestCtx, v any) bool {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}
