package myjd_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/jdownloader_remote/internal/upstream"
	"github.com/italolelis/jdownloader_remote/internal/upstream/myjd"
)

var creds = upstream.Credentials{Email: "user@example.com", Password: "secret"}

const sessionToken = "session-token"

func newServer(t *testing.T, mux *http.ServeMux) *httptest.Server {
	t.Helper()

	mux.HandleFunc("/my/connect", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["password"] != creds.Password {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"type":"AUTH_FAILED"}`)

			return
		}

		assert.Equal(t, "test-app", body["appKey"])
		assert.NotEmpty(t, body["clientId"])
		assert.Empty(t, r.Header.Get("Authorization"))

		fmt.Fprintf(w, `{"sessiontoken":%q}`, sessionToken)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return ts
}

func requireSession(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer "+sessionToken {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"type":"TOKEN_INVALID"}`)

		return false
	}

	return true
}

func connected(t *testing.T, mux *http.ServeMux) *myjd.Client {
	t.Helper()

	ts := newServer(t, mux)
	client := myjd.NewClient(ts.URL, "test-app", 5*time.Second)
	require.NoError(t, client.Connect(context.Background(), creds))

	return client
}

func TestConnect(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantAuth bool
	}{
		{"valid credentials", creds.Password, false},
		{"wrong password", "nope", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newServer(t, http.NewServeMux())
			client := myjd.NewClient(ts.URL, "test-app", 5*time.Second)

			err := client.Connect(context.Background(), upstream.Credentials{Email: creds.Email, Password: tt.password})
			if !tt.wantAuth {
				require.NoError(t, err)

				token, err := client.Token()
				require.NoError(t, err)
				assert.Equal(t, sessionToken, token.AccessToken)

				return
			}

			var authErr *upstream.AuthExpiredError
			require.True(t, errors.As(err, &authErr), "got %v", err)
			assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)

			_, err = client.Token()
			assert.Error(t, err)
		})
	}
}

func TestListDevices(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/my/listdevices", func(w http.ResponseWriter, r *http.Request) {
		if !requireSession(w, r) {
			return
		}

		fmt.Fprint(w, `{"list":[{"id":"d1","name":"NAS","type":"jd"},{"id":"d2","name":"Desktop"}]}`)
	})

	client := connected(t, mux)

	devices, err := client.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []upstream.Device{
		{ID: "d1", Name: "NAS", Type: "jd"},
		{ID: "d2", Name: "Desktop"},
	}, devices)
}

func TestCallsWithoutSession_ReturnAuthExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/my/listdevices", func(w http.ResponseWriter, _ *http.Request) {
		t.Error("request must not reach the server without a session")
	})

	ts := newServer(t, mux)
	client := myjd.NewClient(ts.URL, "test-app", 5*time.Second)

	_, err := client.ListDevices(context.Background())

	var authErr *upstream.AuthExpiredError
	require.True(t, errors.As(err, &authErr), "got %v", err)
	assert.Equal(t, "list_devices", authErr.Operation)
}

func TestAddLinks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/t/d1/linkgrabberv2/addLinks", func(w http.ResponseWriter, r *http.Request) {
		if !requireSession(w, r) {
			return
		}

		var body struct {
			Links     string `json:"links"`
			Autostart bool   `json:"autostart"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://a.example/1\nhttps://b.example/2", body.Links)
		assert.False(t, body.Autostart)

		fmt.Fprint(w, `{"data":{"id":1700000000000}}`)
	})

	client := connected(t, mux)

	result, err := client.AddLinks(context.Background(), "d1", []string{"https://a.example/1", "https://b.example/2"}, false)
	require.NoError(t, err)
	assert.Equal(t, "1700000000000", result.ID)
	assert.Equal(t, 2, result.Count)
}

func TestQueryLinksAndPackages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/t/d1/downloadsV2/queryLinks", func(w http.ResponseWriter, r *http.Request) {
		if !requireSession(w, r) {
			return
		}

		fmt.Fprint(w, `{"data":[{"uuid":1,"name":"a.bin","bytesLoaded":10,"bytesTotal":20,"addedDate":5,"packageUUID":7}]}`)
	})
	mux.HandleFunc("/t/d1/downloadsV2/queryPackages", func(w http.ResponseWriter, r *http.Request) {
		if !requireSession(w, r) {
			return
		}

		var body struct {
			PackageUUIDs []int64 `json:"packageUUIDs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []int64{7}, body.PackageUUIDs)

		fmt.Fprint(w, `{"data":[{"uuid":7,"name":"pkg","childCount":1,"saveTo":"/downloads"}]}`)
	})

	client := connected(t, mux)
	ctx := context.Background()

	links, err := client.QueryLinks(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, int64(7), links[0].PackageUUID)
	assert.Equal(t, int64(20), links[0].BytesTotal)

	packages, err := client.QueryPackages(ctx, "d1", []int64{7})
	require.NoError(t, err)
	assert.Equal(t, []upstream.Package{{UUID: 7, Name: "pkg", ChildCount: 1, SaveTo: "/downloads"}}, packages)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "forbidden is auth expired",
			status: http.StatusForbidden,
			body:   `{"type":"TOKEN_INVALID"}`,
			check: func(t *testing.T, err error) {
				var authErr *upstream.AuthExpiredError
				require.True(t, errors.As(err, &authErr), "got %v", err)
				assert.Equal(t, http.StatusForbidden, authErr.StatusCode)
			},
		},
		{
			name:   "server error is network error",
			status: http.StatusInternalServerError,
			body:   "device offline",
			check: func(t *testing.T, err error) {
				var netErr *upstream.NetworkError
				require.True(t, errors.As(err, &netErr), "got %v", err)
				assert.Equal(t, http.StatusInternalServerError, netErr.StatusCode)
				assert.Equal(t, "device offline", netErr.APIMessage)
			},
		},
		{
			name:   "malformed body is invalid response",
			status: http.StatusOK,
			body:   `{"data":`,
			check: func(t *testing.T, err error) {
				var invalid *upstream.InvalidResponseError
				require.True(t, errors.As(err, &invalid), "got %v", err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/t/d1/downloadsV2/queryLinks", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			client := connected(t, mux)

			_, err := client.QueryLinks(context.Background(), "d1")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestDisconnect(t *testing.T) {
	calls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/my/disconnect", func(w http.ResponseWriter, r *http.Request) {
		calls++
		requireSession(w, r)
	})

	client := connected(t, mux)
	ctx := context.Background()

	require.NoError(t, client.Disconnect(ctx))
	assert.Equal(t, 1, calls)

	_, err := client.Token()
	assert.Error(t, err)

	// Without a session there is nothing to close.
	require.NoError(t, client.Disconnect(ctx))
	assert.Equal(t, 1, calls)
}
