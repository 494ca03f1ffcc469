package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, h http.HandlerFunc, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--addr", srv.URL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	out, err := runCmd(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"instance":"crm-turbo","status":"CONNECTED","chatCount":3,"uptimeMs":61000}`))
	}, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "crm-turbo")
	assert.Contains(t, out, "CONNECTED")
	assert.Contains(t, out, "1m1s")
}

func TestChatsCommandMarksOpen(t *testing.T) {
	out, err := runCmd(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chats":[{"remoteId":"a@s.whatsapp.net","displayName":"Alice","unreadCount":0,"lastMessagePreview":"oi"},{"remoteId":"b@s.whatsapp.net","displayName":"Bob","unreadCount":4}],"open":"a@s.whatsapp.net"}`))
	}, "chats")
	require.NoError(t, err)
	assert.Contains(t, out, "*    0  Alice")
	assert.Contains(t, out, "     4  Bob")
}

func TestSendCommandRequiresArgs(t *testing.T) {
	_, err := runCmd(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}, "send", "a@s.whatsapp.net")
	assert.Error(t, err)
}

func TestPairAlreadyConnected(t *testing.T) {
	out, err := runCmd(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/connect", r.URL.Path)
		_, _ = w.Write([]byte(`{"instance":"crm-turbo","status":"CONNECTED"}`))
	}, "pair")
	require.NoError(t, err)
	assert.Contains(t, out, "already connected")
}

func TestCloseCommandNothingOpen(t *testing.T) {
	out, err := runCmd(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"closed":""}`))
	}, "close")
	require.NoError(t, err)
	assert.Contains(t, out, "No conversation was open")
}
