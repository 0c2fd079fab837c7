// Package archiver implements the incremental synchronization of the
// user's saved Reddit posts into the local archive.
package archiver

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Ragnaruk/reddit-archiver/internal/reddit"
	"github.com/Ragnaruk/reddit-archiver/internal/storage"
)

// Engine performs one incremental sync pass per Run call.
type Engine struct {
	client *reddit.Client
	repo   storage.Repository
	log    logrus.FieldLogger
}

// NewEngine creates a sync engine.
func NewEngine(client *reddit.Client, repo storage.Repository, logger logrus.FieldLogger) *Engine {
	return &Engine{
		client: client,
		repo:   repo,
		log:    logger.WithField("component", "sync_engine"),
	}
}

// Run fetches the saved-items feed newest-first, stops paginating once a
// page ends on an already-archived post, and inserts the accumulated items
// oldest-first. It returns how many posts were inserted and skipped.
//
// The stop condition checks only the last item of each page. That assumes
// the feed is strictly ordered and gap-free: if the boundary post is
// archived, everything older is too. A reordered feed would under-fetch;
// the next pass picks the stragglers up once they cross a page boundary.
//
// Any HTTP, parse or storage error aborts the pass. Inserts committed
// before the failure stay; the next scheduled pass starts from scratch.
func (e *Engine) Run(ctx context.Context) (inserted, skipped int, err error) {
	listing, err := e.client.Saved(ctx, "")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch first page: %w", err)
	}

	after := listing.Data.After
	posts := listing.Data.Children

	for after != "" && len(posts) > 0 {
		seen, err := e.repo.HasPost(ctx, posts[len(posts)-1].Data.Permalink)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to check page boundary: %w", err)
		}
		if seen {
			break
		}

		e.log.WithField("after", after).Debug("Fetching next page of saved posts")
		listing, err = e.client.Saved(ctx, after)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to fetch page after %s: %w", after, err)
		}
		after = listing.Data.After
		posts = append(posts, listing.Data.Children...)
	}

	// The feed is newest-first; insert oldest-first so doc ids follow
	// save order.
	for i := len(posts) - 1; i >= 0; i-- {
		post := posts[i].Data
		seen, err := e.repo.HasPost(ctx, post.Permalink)
		if err != nil {
			return inserted, skipped, fmt.Errorf("failed to check post %s: %w", post.Permalink, err)
		}
		if seen {
			skipped++
			continue
		}
		if _, err := e.repo.InsertPost(ctx, post); err != nil {
			return inserted, skipped, fmt.Errorf("failed to insert post %s: %w", post.Permalink, err)
		}
		inserted++
	}

	e.log.WithFields(logrus.Fields{
		"inserted": inserted,
		"skipped":  skipped,
	}).Info("Sync pass finished")
	return inserted, skipped, nil
}
