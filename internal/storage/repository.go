package storage

import (
	"context"
	"errors"

	"github.com/Ragnaruk/reddit-archiver/internal/domain"
)

// ErrNotFound is returned when a lookup by doc id or permalink misses.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicatePermalink is returned by InsertPost when the permalink is
// already archived. The sync engine checks HasPost first; this is the
// backstop behind that check.
var ErrDuplicatePermalink = errors.New("storage: permalink already archived")

// Repository defines the read and append operations of the post archive.
// The archive is append-only: posts are never updated or deleted.
type Repository interface {
	// InsertPost archives a new post and returns its assigned doc id.
	// Doc ids are assigned sequentially starting at 1.
	InsertPost(ctx context.Context, post domain.Post) (uint64, error)

	// HasPost reports whether a post with the given permalink is archived.
	HasPost(ctx context.Context, permalink string) (bool, error)

	// PostByID retrieves a post by its doc id.
	PostByID(ctx context.Context, id uint64) (domain.Post, error)

	// AllPosts returns every archived post in doc id order.
	AllPosts(ctx context.Context) ([]domain.Post, error)

	// PostsBySubreddit returns the posts of one subreddit in doc id order.
	PostsBySubreddit(ctx context.Context, subreddit string) ([]domain.Post, error)

	// CountPosts returns the number of archived posts.
	CountPosts(ctx context.Context) (uint64, error)

	// SubredditCounts returns the number of archived posts per subreddit.
	SubredditCounts(ctx context.Context) (map[string]int, error)

	// Close gracefully shuts down the repository.
	Close() error
}

// SessionStore persists per-user conversation state across restarts.
type SessionStore interface {
	// Session loads the session for a user. A user who has never talked
	// to the bot gets a fresh zero-valued session, not an error.
	Session(ctx context.Context, userID int64) (*domain.Session, error)

	// SaveSession stores the session for a user.
	SaveSession(ctx context.Context, userID int64, session *domain.Session) error
}
