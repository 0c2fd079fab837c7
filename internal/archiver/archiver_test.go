package archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ragnaruk/reddit-archiver/internal/domain"
	"github.com/Ragnaruk/reddit-archiver/internal/reddit"
	"github.com/Ragnaruk/reddit-archiver/internal/storage"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func setupTestRepo(t *testing.T) *storage.BadgerRepository {
	t.Helper()
	repo, err := storage.NewBadgerRepository(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, repo.Close())
	})
	return repo
}

// feedPage is one page of the fake saved feed, newest-first.
type feedPage struct {
	after string
	posts []domain.Post
}

// newFeedServer serves a token endpoint and a multi-page saved feed,
// recording how many feed pages were requested.
func newFeedServer(t *testing.T, pages []feedPage, pagesFetched *int) *httptest.Server {
	t.Helper()

	byCursor := make(map[string]feedPage, len(pages))
	cursor := ""
	for _, p := range pages {
		byCursor[cursor] = p
		cursor = p.after
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
	})
	mux.HandleFunc("/user/archiver/saved", func(w http.ResponseWriter, r *http.Request) {
		page, ok := byCursor[r.URL.Query().Get("after")]
		require.True(t, ok, "unexpected cursor %q", r.URL.Query().Get("after"))
		*pagesFetched++

		children := make([]map[string]any, 0, len(page.posts))
		for _, p := range page.posts {
			children = append(children, map[string]any{"data": map[string]any{
				"permalink": p.Permalink,
				"subreddit": p.Subreddit,
				"title":     p.Title,
				"url":       p.URL,
			}})
		}
		var after any
		if page.after != "" {
			after = page.after
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"after": after, "children": children},
		})
	})
	return httptest.NewServer(mux)
}

func newEngine(srv *httptest.Server, repo storage.Repository) *Engine {
	client := reddit.NewClient(reddit.Config{
		AuthBaseURL: srv.URL,
		APIBaseURL:  srv.URL,
		Username:    "archiver",
	}, testLogger())
	return NewEngine(client, repo, testLogger())
}

func post(sub string, n int) domain.Post {
	return domain.Post{
		Permalink: fmt.Sprintf("/r/%s/comments/%d/", sub, n),
		Subreddit: sub,
		Title:     fmt.Sprintf("post %d", n),
		URL:       fmt.Sprintf("https://example.com/%d", n),
	}
}

func TestEngine_EmptyArchiveFetchesAllPages(t *testing.T) {
	pages := []feedPage{
		{after: "t3_p2", posts: []domain.Post{post("golang", 4), post("golang", 3)}},
		{after: "", posts: []domain.Post{post("pics", 2), post("pics", 1)}},
	}
	var fetched int
	srv := newFeedServer(t, pages, &fetched)
	defer srv.Close()

	repo := setupTestRepo(t)
	engine := newEngine(srv, repo)

	inserted, skipped, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, inserted)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, 2, fetched)

	// The feed is newest-first, inserts happen oldest-first: the oldest
	// post gets doc id 1.
	first, err := repo.PostByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "/r/pics/comments/1/", first.Permalink)
}

func TestEngine_StopsPaginatingAtSeenBoundary(t *testing.T) {
	boundary := post("golang", 3)
	pages := []feedPage{
		{after: "t3_p2", posts: []domain.Post{post("golang", 5), post("golang", 4)}},
		{after: "t3_p3", posts: []domain.Post{boundary, post("pics", 2)}},
		{after: "", posts: []domain.Post{post("pics", 1)}},
	}
	var fetched int
	srv := newFeedServer(t, pages, &fetched)
	defer srv.Close()

	repo := setupTestRepo(t)
	ctx := context.Background()

	// Pre-archive everything up to the second page's last item.
	for _, p := range []domain.Post{post("pics", 1), post("pics", 2), boundary} {
		_, err := repo.InsertPost(ctx, p)
		require.NoError(t, err)
	}

	engine := newEngine(srv, repo)
	inserted, skipped, err := engine.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, fetched, "third page must not be fetched")
	assert.Equal(t, 2, inserted)
	assert.Equal(t, 2, skipped)
}

func TestEngine_SecondRunInsertsNothing(t *testing.T) {
	pages := []feedPage{
		{after: "", posts: []domain.Post{post("golang", 2), post("golang", 1)}},
	}
	var fetched int
	srv := newFeedServer(t, pages, &fetched)
	defer srv.Close()

	repo := setupTestRepo(t)
	engine := newEngine(srv, repo)
	ctx := context.Background()

	inserted, skipped, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	assert.Equal(t, 0, skipped)

	inserted, skipped, err = engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted, "a second pass over the same feed is a no-op")
	assert.Equal(t, 2, skipped)

	count, err := repo.CountPosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestEngine_APIFailureAbortsPass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	repo := setupTestRepo(t)
	engine := newEngine(srv, repo)

	_, _, err := engine.Run(context.Background())
	var apiErr *reddit.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestSecondsUntil(t *testing.T) {
	target := 3 * time.Hour // 03:00 UTC

	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{
			name: "before target same day",
			now:  time.Date(2024, 5, 1, 1, 30, 0, 0, time.UTC),
			want: 90 * time.Minute,
		},
		{
			name: "past target wraps to next day",
			now:  time.Date(2024, 5, 1, 4, 0, 0, 0, time.UTC),
			want: 23 * time.Hour,
		},
		{
			name: "exactly at target",
			now:  time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC),
			want: 0,
		},
		{
			name: "just before midnight",
			now:  time.Date(2024, 5, 1, 23, 59, 59, 0, time.UTC),
			want: 3*time.Hour + time.Second,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SecondsUntil(target, tt.now))
		})
	}
}
