package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

// newTestServer serves the token endpoint and a two-page saved feed,
// counting the token exchanges it performs.
func newTestServer(t *testing.T, tokenCalls *int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok, "token request must carry basic auth")
		assert.Equal(t, "client-id", user)
		assert.Equal(t, "client-secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "archiver", r.PostForm.Get("username"))

		*tokenCalls++
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1"})
	})
	mux.HandleFunc("/user/archiver/saved", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bearer tok-1", r.Header.Get("Authorization"))

		if r.URL.Query().Get("after") == "" {
			fmt.Fprint(w, `{"data":{"after":"t3_page2","children":[
				{"data":{"permalink":"/r/golang/1/","subreddit":"golang","title":"one","url":"u1"}}
			]}}`)
			return
		}
		fmt.Fprint(w, `{"data":{"after":null,"children":[
			{"data":{"permalink":"/r/golang/2/","subreddit":"golang","title":"two","url":"u2"}}
		]}}`)
	})
	return httptest.NewServer(mux)
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(Config{
		AuthBaseURL:  srv.URL,
		APIBaseURL:   srv.URL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Username:     "archiver",
		Password:     "hunter2",
		UserAgent:    "test:reddit-archiver:v1 (by /u/archiver)",
	}, testLogger())
}

func TestClient_SavedPagination(t *testing.T) {
	var tokenCalls int
	srv := newTestServer(t, &tokenCalls)
	defer srv.Close()

	client := newTestClient(srv)
	ctx := context.Background()

	first, err := client.Saved(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "t3_page2", first.Data.After)
	require.Len(t, first.Data.Children, 1)
	assert.Equal(t, "/r/golang/1/", first.Data.Children[0].Data.Permalink)

	second, err := client.Saved(ctx, first.Data.After)
	require.NoError(t, err)
	assert.Equal(t, "", second.Data.After, "JSON null cursor decodes to empty string")
	require.Len(t, second.Data.Children, 1)
	assert.Equal(t, "two", second.Data.Children[0].Data.Title)
}

func TestClient_TokenIsCachedWithinWindow(t *testing.T) {
	var tokenCalls int
	srv := newTestServer(t, &tokenCalls)
	defer srv.Close()

	client := newTestClient(srv)
	ctx := context.Background()

	_, err := client.Saved(ctx, "")
	require.NoError(t, err)
	_, err = client.Saved(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, tokenCalls, "second fetch within the TTL must reuse the token")

	// Past the TTL a fresh exchange happens.
	client.now = func() time.Time { return time.Now().Add(tokenTTL + time.Minute) }
	_, err = client.Saved(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, tokenCalls)
}

func TestClient_NonSuccessStatusIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv)

	_, err := client.Token(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestClient_MalformedJSONIsDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token": "tok-1"`)
	}))
	defer srv.Close()

	client := newTestClient(srv)

	_, err := client.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}
