package domain

// Session is the per-user conversation state of the bot. It survives
// restarts: the bot loads it before every handled message and stores it
// back afterwards.
type Session struct {
	// Steps is the stack of screens the user has visited, most recent
	// last. "Back" pops it.
	Steps []string `json:"steps"`

	// SubredditPosts caches the post list for the subreddit currently
	// being browsed. Loaded once when the user enters a subreddit, not
	// re-queried on every "Next".
	SubredditPosts []Post `json:"subreddit_posts"`

	// SubredditPostNumber is the zero-based cursor into SubredditPosts.
	SubredditPostNumber int `json:"subreddit_post_number"`
}

// CurrentStep returns the top of the step stack, or "" when empty.
func (s *Session) CurrentStep() string {
	if len(s.Steps) == 0 {
		return ""
	}
	return s.Steps[len(s.Steps)-1]
}

// PushStep appends a screen to the stack unless it is already on top.
func (s *Session) PushStep(name string) {
	if s.CurrentStep() == name {
		return
	}
	s.Steps = append(s.Steps, name)
}

// ResetSteps replaces the stack with the single given screen.
func (s *Session) ResetSteps(name string) {
	s.Steps = []string{name}
}

// PopStep removes and returns the top of the stack. Returns "" when the
// stack is already empty.
func (s *Session) PopStep() string {
	if len(s.Steps) == 0 {
		return ""
	}
	name := s.Steps[len(s.Steps)-1]
	s.Steps = s.Steps[:len(s.Steps)-1]
	return name
}

// AdvanceCursor moves the browse cursor one post forward, wrapping to the
// first post after the last one.
func (s *Session) AdvanceCursor() {
	if len(s.SubredditPosts) == 0 {
		s.SubredditPostNumber = 0
		return
	}
	if s.SubredditPostNumber >= len(s.SubredditPosts)-1 {
		s.SubredditPostNumber = 0
		return
	}
	s.SubredditPostNumber++
}
