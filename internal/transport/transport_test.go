package transport_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelchat/kestrel/internal/crypto"
	"github.com/kestrelchat/kestrel/internal/request"
	"github.com/kestrelchat/kestrel/internal/transport"
)

func TestSendIdentifiedSetsBasicAuth(t *testing.T) {
	var gotUser, gotPass string
	var gotOK bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, gotOK = r.BasicAuth()
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sender := transport.NewHTTPSender(srv.URL, transport.Credentials{Username: "aci.1", Password: "secret"})
	d := request.Descriptor{Method: http.MethodGet, Path: "/v1/devices", Auth: request.AuthIdentified()}

	resp, err := sender.Send(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	require.True(t, gotOK)
	assert.Equal(t, "aci.1", gotUser)
	assert.Equal(t, "secret", gotPass)
}

func TestSendUnidentifiedSetsAccessKeyHeader(t *testing.T) {
	var gotHeader string
	var gotAuthHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Unidentified-Access-Key")
		gotAuthHeader = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	key := crypto.AccessKey{1, 2, 3, 4}
	sender := transport.NewHTTPSender(srv.URL, transport.Credentials{})
	d := request.Descriptor{Method: http.MethodGet, Path: "/v1/profile/x", Auth: request.AuthUnidentified(key)}

	_, err := sender.Send(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(key[:]), gotHeader)
	assert.Empty(t, gotAuthHeader, "unidentified requests must not carry identified credentials")
}

func TestSendAnonymousCarriesNoCredentials(t *testing.T) {
	var gotAuth, gotAccess string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccess = r.Header.Get("Unidentified-Access-Key")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	sender := transport.NewHTTPSender(srv.URL, transport.Credentials{Username: "aci.1", Password: "secret"})
	d := request.Descriptor{Method: http.MethodGet, Path: "/v1/config", Auth: request.AuthNone()}

	_, err := sender.Send(context.Background(), d)
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
	assert.Empty(t, gotAccess)
}

func TestSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"gone"}`, http.StatusGone)
	}))
	defer srv.Close()

	sender := transport.NewHTTPSender(srv.URL, transport.Credentials{})
	d := request.Descriptor{Method: http.MethodGet, Path: "/v1/profile/x", Auth: request.AuthNone()}

	_, err := sender.Send(context.Background(), d)
	var statusErr *transport.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusGone, statusErr.Status)
}

func TestResponseJSON(t *testing.T) {
	resp := &transport.Response{Status: 200, Body: []byte(`{"count":42}`)}
	var out struct {
		Count int `json:"count"`
	}
	require.NoError(t, resp.JSON(&out))
	assert.Equal(t, 42, out.Count)
}
