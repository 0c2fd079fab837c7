package bot

import (
	"context"
	"fmt"
	"html"
	"math/rand"
	"regexp"
	"sort"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/Ragnaruk/reddit-archiver/internal/config"
	"github.com/Ragnaruk/reddit-archiver/internal/domain"
	"github.com/Ragnaruk/reddit-archiver/internal/storage"
)

// Screen identifiers. The step stack records these.
const (
	screenStart          = "start"
	screenSubreddits     = "subreddits"
	screenSubredditPosts = "subreddit_posts"
	screenRandomPost     = "random_post"
	screenCancel         = "cancel"

	// screenBack is a pseudo-screen: it never enters the step stack, it
	// only pops it.
	screenBack = "back"
)

// stepPolicy controls what a screen does to the step stack before running.
type stepPolicy int

const (
	// stepPush appends the screen unless it is already on top.
	stepPush stepPolicy = iota
	// stepReset replaces the stack with just this screen.
	stepReset
	// stepSkip leaves the stack alone. Paging with "Next" must not grow
	// the back history.
	stepSkip
)

var stepPolicies = map[string]stepPolicy{
	screenStart:          stepReset,
	screenSubreddits:     stepPush,
	screenSubredditPosts: stepSkip,
	screenRandomPost:     stepPush,
	screenCancel:         stepSkip,
}

// subredditCommand matches the dynamic /<subreddit_name> jump commands.
var subredditCommand = regexp.MustCompile(`^/\w+$`)

// screenFunc renders one screen: it reads the archive if needed, mutates
// the session and sends the reply.
type screenFunc func(ctx context.Context, update *models.Update, session *domain.Session) error

// sender is the slice of the Telegram bot API the screens use.
// *tgbot.Bot satisfies it; tests substitute a recorder.
type sender interface {
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error)
}

// Handler owns the bot's conversation flow: the screen registry, the
// allow-list filter and the per-user session state.
type Handler struct {
	bot      *tgbot.Bot
	tg       sender
	repo     storage.Repository
	sessions storage.SessionStore
	allowed  map[int64]bool
	screens  map[string]screenFunc
	log      logrus.FieldLogger
}

// NewHandler creates a new bot handler instance.
func NewHandler(cfg config.Config, repo storage.Repository, sessions storage.SessionStore, logger logrus.FieldLogger) (*Handler, error) {
	log := logger.WithField("component", "bot_handler")

	h := &Handler{
		repo:     repo,
		sessions: sessions,
		allowed:  make(map[int64]bool, len(cfg.AllowedUserIDs)),
		log:      log,
	}
	for _, id := range cfg.AllowedUserIDs {
		h.allowed[id] = true
	}
	h.registerScreens()

	b, err := tgbot.New(cfg.TelegramBotToken, tgbot.WithDefaultHandler(h.onUpdate))
	if err != nil {
		log.WithError(err).Error("Failed to create Telegram bot instance")
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	h.bot = b
	h.tg = b

	log.Info("Telegram bot handler initialized")
	return h, nil
}

// registerScreens builds the screen registry.
func (h *Handler) registerScreens() {
	h.screens = map[string]screenFunc{
		screenStart:          h.startScreen,
		screenSubreddits:     h.subredditsScreen,
		screenSubredditPosts: h.subredditPostsScreen,
		screenRandomPost:     h.randomPostScreen,
		screenCancel:         h.cancelScreen,
	}
}

// Start begins polling for updates from Telegram.
// This function blocks until the context is cancelled.
func (h *Handler) Start(ctx context.Context) {
	h.log.Info("Starting Telegram bot polling...")
	h.bot.Start(ctx)
	h.log.Info("Telegram bot polling stopped.")
}

// routeText resolves incoming text to a screen identifier, or "" when the
// text means nothing to the bot.
func routeText(text string) string {
	switch text {
	case "/start":
		return screenStart
	case "/cancel":
		return screenCancel
	case "Subreddits":
		return screenSubreddits
	case "Random Post":
		return screenRandomPost
	case "Next":
		return screenSubredditPosts
	case "Back":
		return screenBack
	}
	if subredditCommand.MatchString(text) {
		return screenSubredditPosts
	}
	return ""
}

// onUpdate is the single dispatch entry point for every incoming message:
// allow-list filter, audit log, session load, step tracking, screen
// invocation, session save.
func (h *Handler) onUpdate(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	// Requests from unknown users are dropped without a reply.
	if !h.allowed[msg.From.ID] {
		return
	}

	screen := routeText(msg.Text)
	if screen == "" {
		return
	}

	h.log.WithFields(logrus.Fields{
		"id":         msg.From.ID,
		"username":   msg.From.Username,
		"first_name": msg.From.FirstName,
		"last_name":  msg.From.LastName,
		"text":       msg.Text,
		"screen":     screen,
	}).Info("Handling message")

	session, err := h.sessions.Session(ctx, msg.From.ID)
	if err != nil {
		h.log.WithError(err).Error("Failed to load session")
		h.apologize(ctx, msg.Chat.ID)
		return
	}

	if screen == screenBack {
		err = h.backScreen(ctx, update, session)
	} else {
		err = h.runScreen(ctx, update, session, screen)
	}
	if err != nil {
		h.log.WithError(err).WithField("screen", screen).Error("Screen handler failed")
		h.apologize(ctx, msg.Chat.ID)
		return
	}

	if err := h.sessions.SaveSession(ctx, msg.From.ID, session); err != nil {
		h.log.WithError(err).Error("Failed to save session")
	}
}

// runScreen applies the screen's step-stack policy and invokes it.
func (h *Handler) runScreen(ctx context.Context, update *models.Update, session *domain.Session, name string) error {
	fn, ok := h.screens[name]
	if !ok {
		return fmt.Errorf("unknown screen %q", name)
	}

	switch stepPolicies[name] {
	case stepReset:
		session.ResetSteps(name)
	case stepPush:
		session.PushStep(name)
	}

	return fn(ctx, update, session)
}

// backScreen pops the current screen and re-invokes the one beneath it.
// With nothing beneath, the stack stays empty and no screen is re-run.
// "Back" on an already-empty stack re-shows the entry screen.
func (h *Handler) backScreen(ctx context.Context, update *models.Update, session *domain.Session) error {
	if len(session.Steps) == 0 {
		return h.runScreen(ctx, update, session, screenStart)
	}
	session.PopStep()
	if len(session.Steps) == 0 {
		return nil
	}
	return h.runScreen(ctx, update, session, session.PopStep())
}

// --- Screens ---

func (h *Handler) startScreen(ctx context.Context, update *models.Update, session *domain.Session) error {
	return h.reply(ctx, update, "Welcome to Reddit Archiver Bot.", mainMenuKeyboard())
}

func (h *Handler) subredditsScreen(ctx context.Context, update *models.Update, session *domain.Session) error {
	counts, err := h.repo.SubredditCounts(ctx)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("<b>List of subreddits:</b>\n\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "/%s: <b>%d</b> posts.\n", name, counts[name])
	}

	for _, chunk := range splitMessage(sb.String(), maxMessageSize, chunkSearchDistance) {
		if err := h.reply(ctx, update, chunk, backKeyboard()); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) subredditPostsScreen(ctx context.Context, update *models.Update, session *domain.Session) error {
	if update.Message.Text == "Next" {
		if len(session.SubredditPosts) == 0 {
			return h.reply(ctx, update, "Nothing to page through yet. Pick a subreddit from the Subreddits list first.", backKeyboard())
		}
		session.AdvanceCursor()
	} else {
		name := strings.TrimPrefix(update.Message.Text, "/")
		posts, err := h.repo.PostsBySubreddit(ctx, name)
		if err != nil {
			return err
		}
		if len(posts) == 0 {
			return h.reply(ctx, update, fmt.Sprintf("No archived posts in r/%s.", name), backKeyboard())
		}
		session.SubredditPosts = posts
		session.SubredditPostNumber = 0
	}

	post := session.SubredditPosts[session.SubredditPostNumber]
	message := fmt.Sprintf("%s\n<b>Number:</b> %d/%d",
		formatPost(post), session.SubredditPostNumber+1, len(session.SubredditPosts))

	return h.reply(ctx, update, message, browseKeyboard())
}

func (h *Handler) randomPostScreen(ctx context.Context, update *models.Update, session *domain.Session) error {
	count, err := h.repo.CountPosts(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		return h.reply(ctx, update, "The archive is empty.", backKeyboard())
	}

	id := uint64(rand.Int63n(int64(count))) + 1
	post, err := h.repo.PostByID(ctx, id)
	if err != nil {
		return err
	}

	return h.reply(ctx, update, formatPost(post), randomKeyboard())
}

func (h *Handler) cancelScreen(ctx context.Context, update *models.Update, session *domain.Session) error {
	session.Steps = nil
	session.SubredditPosts = nil
	session.SubredditPostNumber = 0

	_, err := h.tg.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      update.Message.Chat.ID,
		Text:        "Goodbye.",
		ReplyMarkup: &models.ReplyKeyboardRemove{RemoveKeyboard: true},
	})
	return err
}

// --- Formatting and sending ---

// formatPost renders the fixed post template. The title is the only field
// with user-authored content that could break HTML parse mode.
func formatPost(post domain.Post) string {
	return fmt.Sprintf(
		"<b>Subreddit:</b> r/%s\n"+
			"<b>Title:</b> %s\n"+
			"<b>Direct URL:</b> %s\n"+
			"<b>Reddit URL:</b> %s",
		post.Subreddit,
		html.EscapeString(post.Title),
		post.URL,
		post.RedditURL(),
	)
}

func (h *Handler) reply(ctx context.Context, update *models.Update, text string, markup models.ReplyMarkup) error {
	_, err := h.tg.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      update.Message.Chat.ID,
		Text:        text,
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: markup,
	})
	if err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// apologize is the user-facing path for internal failures.
func (h *Handler) apologize(ctx context.Context, chatID int64) {
	_, err := h.tg.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   "Something went wrong. Please try again.",
	})
	if err != nil {
		h.log.WithError(err).Error("Failed to send error reply")
	}
}

func mainMenuKeyboard() *models.ReplyKeyboardMarkup {
	return &models.ReplyKeyboardMarkup{
		Keyboard: [][]models.KeyboardButton{
			{{Text: "Subreddits"}, {Text: "Random Post"}},
		},
		ResizeKeyboard: true,
	}
}

func backKeyboard() *models.ReplyKeyboardMarkup {
	return &models.ReplyKeyboardMarkup{
		Keyboard: [][]models.KeyboardButton{
			{{Text: "Back"}},
		},
		ResizeKeyboard: true,
	}
}

func browseKeyboard() *models.ReplyKeyboardMarkup {
	return &models.ReplyKeyboardMarkup{
		Keyboard: [][]models.KeyboardButton{
			{{Text: "Next"}},
			{{Text: "Back"}},
		},
		ResizeKeyboard: true,
	}
}

func randomKeyboard() *models.ReplyKeyboardMarkup {
	return &models.ReplyKeyboardMarkup{
		Keyboard: [][]models.KeyboardButton{
			{{Text: "Random Post"}},
			{{Text: "Back"}},
		},
		ResizeKeyboard: true,
	}
}
