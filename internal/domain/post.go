package domain

import (
	"encoding/json"
	"errors"
)

// ErrMissingPermalink is returned when a post arrives from the API without
// the one field the whole archive is keyed on.
var ErrMissingPermalink = errors.New("post has no permalink")

// Post represents a single saved Reddit item in the archive.
//
// The permalink is the dedup key: the archive never stores two posts with
// the same permalink. Any fields the API sends beyond the four we care
// about are kept verbatim in Extra so the stored document round-trips the
// source payload unchanged.
type Post struct {
	// Permalink uniquely identifies the post within the archive.
	Permalink string

	// Subreddit is the origin community name, without the "r/" prefix.
	Subreddit string

	// Title of the post.
	Title string

	// URL is the direct resource URL (image, article, etc.).
	URL string

	// Extra holds all remaining fields from the source API, unparsed.
	Extra map[string]json.RawMessage
}

// Validate checks the fields the archive depends on.
func (p Post) Validate() error {
	if p.Permalink == "" {
		return ErrMissingPermalink
	}
	return nil
}

// RedditURL returns the canonical reddit.com link for the post.
func (p Post) RedditURL() string {
	return "https://reddit.com" + p.Permalink
}

type postFields struct {
	Permalink string `json:"permalink"`
	Subreddit string `json:"subreddit"`
	Title     string `json:"title"`
	URL       string `json:"url"`
}

// UnmarshalJSON decodes the known fields and keeps everything else in Extra.
func (p *Post) UnmarshalJSON(data []byte) error {
	var known postFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	delete(raw, "permalink")
	delete(raw, "subreddit")
	delete(raw, "title")
	delete(raw, "url")
	if len(raw) == 0 {
		raw = nil
	}

	p.Permalink = known.Permalink
	p.Subreddit = known.Subreddit
	p.Title = known.Title
	p.URL = known.URL
	p.Extra = raw
	return nil
}

// MarshalJSON merges the known fields back with the passthrough ones.
func (p Post) MarshalJSON() ([]byte, error) {
	merged := make(map[string]json.RawMessage, len(p.Extra)+4)
	for k, v := range p.Extra {
		merged[k] = v
	}
	for k, v := range map[string]string{
		"permalink": p.Permalink,
		"subreddit": p.Subreddit,
		"title":     p.Title,
		"url":       p.URL,
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = b
	}
	return json.Marshal(merged)
}
