package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Response is one gateway reply after business-status normalisation.
// Body is always valid JSON: non-JSON replies are wrapped as {"raw": text}.
type Response struct {
	Action  Action
	Status  int
	Body    json.RawMessage
	Error   string
	Message string
	Success bool
}

// Failed reports whether the gateway answered with a business error.
func (r *Response) Failed() bool {
	return r.Error != ""
}

// Err converts a business failure into an *APIError, or nil. INSTANCE_EXISTS
// carries success and is not treated as an error.
func (r *Response) Err() error {
	if !r.Failed() || r.Success {
		return nil
	}
	return &APIError{Action: r.Action, Code: r.Error, Message: r.Message}
}

// Decode unmarshals the gateway body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode %s response: %w", r.Action, err)
	}
	return nil
}

func newResponse(action Action, status int, raw []byte) *Response {
	body := json.RawMessage(raw)
	if len(strings.TrimSpace(string(raw))) == 0 || !json.Valid(raw) {
		body, _ = json.Marshal(map[string]string{"raw": string(raw)})
	}
	r := &Response{Action: action, Status: status, Body: body, Success: true}

	switch {
	case status == http.StatusNotFound:
		r.Error, r.Message, r.Success = CodeInstanceNotFound, "Instância não encontrada", false
	case status == http.StatusConflict:
		r.Error, r.Message = CodeInstanceExists, "Instância já existe"
	case status < 200 || status > 299:
		r.Error = "API_ERROR_" + strconv.Itoa(status)
		r.Message = errorMessage(body)
		if r.Message == "" {
			r.Message = fmt.Sprintf("Erro na API: %d", status)
		}
		r.Success = false
	}
	return r
}

// errorMessage extracts "message" or "response.message" from an error body.
// Evolution sometimes sends the message as a list of strings.
func errorMessage(body json.RawMessage) string {
	var env struct {
		Message  json.RawMessage `json:"message"`
		Response struct {
			Message json.RawMessage `json:"message"`
		} `json:"response"`
	}
	if json.Unmarshal(body, &env) != nil {
		return ""
	}
	if m := flattenMessage(env.Message); m != "" {
		return m
	}
	return flattenMessage(env.Response.Message)
}

func flattenMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []any
	if json.Unmarshal(raw, &list) == nil {
		parts := make([]string, 0, len(list))
		for _, v := range list {
			parts = append(parts, fmt.Sprint(v))
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

// ProxyBody renders the response the way the UI proxy endpoint returns it.
// Failures become {error, message, data, success}. Successful object bodies
// get success merged in, and arrays are spread into numeric keys, which is
// the legacy indexed shape the snapshot normaliser still accepts.
func (r *Response) ProxyBody() map[string]any {
	if r.Failed() {
		return map[string]any{
			"error":   r.Error,
			"message": r.Message,
			"data":    r.Body,
			"success": r.Success,
		}
	}

	out := map[string]any{}
	var obj map[string]json.RawMessage
	var arr []json.RawMessage
	switch {
	case json.Unmarshal(r.Body, &obj) == nil && obj != nil:
		for k, v := range obj {
			out[k] = v
		}
	case json.Unmarshal(r.Body, &arr) == nil:
		for i, v := range arr {
			out[strconv.Itoa(i)] = v
		}
	default:
		out["data"] = r.Body
	}
	out["success"] = true
	return out
}
