package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Ragnaruk/reddit-archiver/internal/domain"
)

// BadgerRepository implements Repository and SessionStore on a single
// BadgerDB instance. Posts, the permalink dedup index, the doc id counter
// and the conversation sessions live in separate key namespaces:
//
//	post:{%020d}          -> post JSON
//	permalink:{permalink} -> 8-byte big-endian doc id
//	meta:post_count       -> 8-byte big-endian counter
//	session:{userID}      -> session JSON
type BadgerRepository struct {
	db  *badger.DB
	log logrus.FieldLogger
}

var countKey = []byte("meta:post_count")

// NewBadgerRepository opens the database at the specified path.
func NewBadgerRepository(dbPath string, logger logrus.FieldLogger) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db at %s: %w", dbPath, err)
	}

	return &BadgerRepository{
		db:  db,
		log: logger.WithField("component", "repository"),
	}, nil
}

// Close closes the BadgerDB database.
func (r *BadgerRepository) Close() error {
	if err := r.db.Close(); err != nil {
		r.log.WithError(err).Error("Error closing BadgerDB")
		return err
	}
	return nil
}

func postKey(id uint64) []byte {
	return []byte(fmt.Sprintf("post:%020d", id))
}

func permalinkKey(permalink string) []byte {
	return []byte("permalink:" + permalink)
}

func sessionKey(userID int64) []byte {
	return []byte(fmt.Sprintf("session:%d", userID))
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// readCount reads the doc counter inside a transaction. A missing counter
// key means an empty archive.
func readCount(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(countKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var count uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt post counter: %d bytes", len(val))
		}
		count = binary.BigEndian.Uint64(val)
		return nil
	})
	return count, err
}

// InsertPost archives a post under the next doc id. The permalink index
// makes the duplicate check a single point lookup.
func (r *BadgerRepository) InsertPost(ctx context.Context, post domain.Post) (uint64, error) {
	if err := post.Validate(); err != nil {
		return 0, err
	}

	postBytes, err := json.Marshal(post)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal post: %w", err)
	}

	var id uint64
	err = r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(permalinkKey(post.Permalink))
		if err == nil {
			return ErrDuplicatePermalink
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		count, err := readCount(txn)
		if err != nil {
			return err
		}
		id = count + 1

		if err := txn.Set(postKey(id), postBytes); err != nil {
			return err
		}
		if err := txn.Set(permalinkKey(post.Permalink), encodeUint64(id)); err != nil {
			return err
		}
		return txn.Set(countKey, encodeUint64(id))
	})
	if err != nil {
		if errors.Is(err, ErrDuplicatePermalink) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to insert post %s: %w", post.Permalink, err)
	}

	r.log.WithFields(logrus.Fields{
		"doc_id":    id,
		"permalink": post.Permalink,
		"subreddit": post.Subreddit,
	}).Debug("Post archived")
	return id, nil
}

// HasPost reports whether the permalink is already archived.
func (r *BadgerRepository) HasPost(ctx context.Context, permalink string) (bool, error) {
	var found bool
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(permalinkKey(permalink))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check permalink %s: %w", permalink, err)
	}
	return found, nil
}

// PostByID retrieves a single post by doc id.
func (r *BadgerRepository) PostByID(ctx context.Context, id uint64) (domain.Post, error) {
	var post domain.Post
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(postKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &post)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.Post{}, err
		}
		return domain.Post{}, fmt.Errorf("failed to get post %d: %w", id, err)
	}
	return post, nil
}

// scanPosts iterates every post in doc id order and hands each one to fn.
func (r *BadgerRepository) scanPosts(fn func(domain.Post) error) error {
	return r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("post:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var post domain.Post
				if err := json.Unmarshal(val, &post); err != nil {
					return fmt.Errorf("failed to unmarshal post at key %s: %w", string(item.Key()), err)
				}
				return fn(post)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// AllPosts returns every archived post in doc id order.
func (r *BadgerRepository) AllPosts(ctx context.Context) ([]domain.Post, error) {
	var posts []domain.Post
	err := r.scanPosts(func(post domain.Post) error {
		posts = append(posts, post)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan posts: %w", err)
	}
	return posts, nil
}

// PostsBySubreddit returns the posts of one subreddit in doc id order.
func (r *BadgerRepository) PostsBySubreddit(ctx context.Context, subreddit string) ([]domain.Post, error) {
	var posts []domain.Post
	err := r.scanPosts(func(post domain.Post) error {
		if post.Subreddit == subreddit {
			posts = append(posts, post)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan posts for subreddit %s: %w", subreddit, err)
	}
	return posts, nil
}

// CountPosts returns the number of archived posts.
func (r *BadgerRepository) CountPosts(ctx context.Context) (uint64, error) {
	var count uint64
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		count, err = readCount(txn)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read post count: %w", err)
	}
	return count, nil
}

// SubredditCounts aggregates the number of posts per subreddit.
func (r *BadgerRepository) SubredditCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := r.scanPosts(func(post domain.Post) error {
		counts[post.Subreddit]++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate subreddit counts: %w", err)
	}
	return counts, nil
}

// Session loads the conversation state for a user, returning a fresh
// session when none is stored yet.
func (r *BadgerRepository) Session(ctx context.Context, userID int64) (*domain.Session, error) {
	session := &domain.Session{}
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, session)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load session for user %d: %w", userID, err)
	}
	return session, nil
}

// SaveSession stores the conversation state for a user.
func (r *BadgerRepository) SaveSession(ctx context.Context, userID int64, session *domain.Session) error {
	sessionBytes, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(userID), sessionBytes)
	})
	if err != nil {
		return fmt.Errorf("failed to save session for user %d: %w", userID, err)
	}
	return nil
}

// --- BadgerDB Internal Logger ---

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Errorf(f, v...)
}
func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warningf(f, v...)
}
func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Infof(f, v...)
}
func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
