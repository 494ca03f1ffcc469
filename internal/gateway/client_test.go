package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{
		BaseURL:         srv.URL + "/",
		APIKey:          "secret",
		DefaultInstance: "crm-turbo",
		Backoff:         time.Millisecond,
	})
}

func TestInvokeRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	resp, err := c.Invoke(context.Background(), ActionFetchInstances, "", nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.False(t, resp.Failed())
	assert.Equal(t, int32(3), hits.Load())
}

func TestInvokeGivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boot error", http.StatusInternalServerError)
	})

	_, err := c.Invoke(context.Background(), ActionGetChats, "", nil)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, ActionGetChats, gwErr.Action)
	assert.Equal(t, http.StatusInternalServerError, gwErr.Status)
	assert.Equal(t, int32(DefaultMaxAttempts), hits.Load())
}

func TestInvokeNormalizesBusinessErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantError   string
		wantMessage string
		wantSuccess bool
	}{
		{"not found", http.StatusNotFound, `{}`, CodeInstanceNotFound, "Instância não encontrada", false},
		{"exists", http.StatusConflict, `{}`, CodeInstanceExists, "Instância já existe", true},
		{"top-level message", http.StatusUnauthorized, `{"message":"bad key"}`, "API_ERROR_401", "bad key", false},
		{"nested message list", http.StatusBadRequest, `{"response":{"message":["number invalid"]}}`, "API_ERROR_400", "number invalid", false},
		{"no message", http.StatusForbidden, `nope`, "API_ERROR_403", "Erro na API: 403", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			resp, err := c.Invoke(context.Background(), ActionGetQRCode, "", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantError, resp.Error)
			assert.Equal(t, tt.wantMessage, resp.Message)
			assert.Equal(t, tt.wantSuccess, resp.Success)
			assert.Equal(t, int32(1), hits.Load(), "business errors must not be retried")
		})
	}
}

func TestInvokeWrapsNonJSONBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})

	resp, err := c.Invoke(context.Background(), ActionFetchInstances, "", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"raw":"pong"}`, string(resp.Body))
}

func TestInvokeUnknownAction(t *testing.T) {
	c := New(Options{BaseURL: "http://unused"})
	_, err := c.Invoke(context.Background(), Action("dance"), "", nil)
	assert.ErrorIs(t, err, ErrUnknownAction)
	assert.False(t, Action("dance").Known())
}

func TestInvokeRequestShape(t *testing.T) {
	var gotPath, gotMethod, gotKey string
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod, gotKey = r.URL.Path, r.Method, r.Header.Get("apikey")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"key":{"id":"SRV1"}}`))
	})

	id, err := c.SendText(context.Background(), "", "5511999", "olá")
	require.NoError(t, err)
	assert.Equal(t, "SRV1", id)
	assert.Equal(t, "/message/sendText/crm-turbo", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, map[string]any{"number": "5511999", "text": "olá"}, gotBody)
}

func TestMediaConvertDefaultsToTrue(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := c.Invoke(context.Background(), ActionMediaBase64, "other", Payload{"message": map[string]any{"key": "k"}})
	require.NoError(t, err)
	assert.Equal(t, true, gotBody["convertToMp4"])

	_, err = c.Invoke(context.Background(), ActionMediaBase64, "other", Payload{"convertToMp4": false})
	require.NoError(t, err)
	assert.Equal(t, false, gotBody["convertToMp4"])
}

func TestInvokeHonorsCancellation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c.backoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Invoke(ctx, ActionGetChats, "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestQRCodeCreatesMissingInstance(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		if r.URL.Path == "/instance/connect/sales" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"qrcode":{"base64":"data:image/png;base64,AAA","code":"2@xyz"}}`))
	})

	qr, err := c.QRCode(context.Background(), "sales")
	require.NoError(t, err)
	assert.True(t, qr.Created)
	assert.Equal(t, "data:image/png;base64,AAA", qr.Base64)
	assert.Equal(t, "2@xyz", qr.Code)
	assert.Equal(t, []string{"GET /instance/connect/sales", "POST /instance/create"}, paths)
}

func TestQRCodeConnectedInstanceIsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"instance":{"state":"open"}}`))
	})

	qr, err := c.QRCode(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, qr.Empty())
}

func TestConnectionState(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"instance":{"instanceName":"crm-turbo","state":"open"}}`))
	})

	state, err := c.ConnectionState(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "open", state)
}

func TestProxyBody(t *testing.T) {
	arr := newResponse(ActionGetChats, 200, []byte(`[{"remoteJid":"a"},{"remoteJid":"b"}]`))
	out := arr.ProxyBody()
	assert.Equal(t, true, out["success"])
	assert.Contains(t, out, "0")
	assert.Contains(t, out, "1")

	obj := newResponse(ActionFetchInstances, 200, []byte(`{"name":"x"}`))
	assert.Contains(t, obj.ProxyBody(), "name")

	failed := newResponse(ActionGetQRCode, 404, []byte(`{}`))
	body := failed.ProxyBody()
	assert.Equal(t, CodeInstanceNotFound, body["error"])
	assert.Equal(t, false, body["success"])
}

func TestNumberFromJID(t *testing.T) {
	assert.Equal(t, "5511999", NumberFromJID("5511999@s.whatsapp.net"))
	assert.Equal(t, "1203630", NumberFromJID("1203630@g.us"))
	assert.Equal(t, "plain", NumberFromJID("plain"))
}
