package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jusunglee/jishobot/internal/db"
	"github.com/jusunglee/jishobot/internal/dictionary"
	"github.com/jusunglee/jishobot/internal/metrics"
)

const (
	DefaultCommandPrefix = "!jisho"
	commandName          = "jisho"
	handlerTimeout       = 30 * time.Second
)

var errRateLimited = errors.New("rate limited")

type Config struct {
	GuildID       string
	CommandPrefix string
	// Welcome greets members who join a guild in its system channel.
	Welcome bool
}

type Bot struct {
	log      Logger
	session  DiscordSession
	resolver Resolver
	chats    ChatStore
	limiter  *RateLimiter
	config   Config
}

func New(
	log Logger,
	session DiscordSession,
	resolver Resolver,
	chats ChatStore,
	limiter *RateLimiter,
	config Config,
) *Bot {
	if config.CommandPrefix == "" {
		config.CommandPrefix = DefaultCommandPrefix
	}
	return &Bot{
		log:      log,
		session:  session,
		resolver: resolver,
		chats:    chats,
		limiter:  limiter,
		config:   config,
	}
}

func (b *Bot) Run(ctx context.Context) error {
	b.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.log.InfoContext(ctx, "connected to Discord", "username", r.User.Username, "guilds", len(r.Guilds))
	})
	b.session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		b.handleInteraction(i)
	})
	b.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.handleMessage(m)
	})
	b.session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		b.handleGuildCreate(g)
	})
	b.session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) {
		b.handleGuildDelete(g)
	})
	b.session.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
		b.handleGuildMemberAdd(m)
	})

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening Discord connection: %w", err)
	}

	if err := b.registerCommands(ctx); err != nil {
		b.session.Close()
		return fmt.Errorf("registering commands: %w", err)
	}

	b.log.InfoContext(ctx, "bot is running, press Ctrl+C to stop")

	<-ctx.Done()
	b.log.Info("shutdown signal received")
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("closing Discord connection: %w", err)
	}
	b.log.Info("shut down complete")
	return nil
}

var commands = []*discordgo.ApplicationCommand{
	{
		Name:        commandName,
		Description: "Look up a Japanese word (romaji is converted to kana)",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "query",
				Description: `Word to look up, e.g. neko or 猫. Wrap in "quotes" to skip romaji conversion`,
				Required:    true,
			},
		},
	},
}

func (b *Bot) registerCommands(ctx context.Context) error {
	appID := b.session.GetUserID()
	guildID := b.config.GuildID
	if guildID != "" {
		b.log.InfoContext(ctx, "registering commands to guild", "guild_id", guildID)
		_, err := b.session.ApplicationCommandBulkOverwrite(appID, "", []*discordgo.ApplicationCommand{})
		if err != nil {
			b.log.WarnContext(ctx, "failed to clear global commands", "error", err)
		} else {
			b.log.InfoContext(ctx, "cleared global commands")
		}
	} else {
		b.log.InfoContext(ctx, "registering commands globally (may take up to 1 hour to propagate)")
	}

	_, err := b.session.ApplicationCommandBulkOverwrite(appID, guildID, commands)
	if err != nil {
		return fmt.Errorf("bulk overwrite commands: %w", err)
	}
	b.log.InfoContext(ctx, "registered commands", "count", len(commands))
	return nil
}

type handlerResult struct {
	Response string
	Err      error
}

type userError struct {
	Err error
}

func (e *userError) Error() string {
	return e.Err.Error()
}

func (e *userError) Unwrap() error {
	return e.Err
}

func newUserError(err error) *userError {
	return &userError{Err: err}
}

func getOption(options []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, opt := range options {
		if opt.Name == name {
			return opt.StringValue()
		}
	}
	return ""
}

// interactionUser returns the invoking user: Member.User in guilds, User in
// direct messages.
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func (b *Bot) handleInteraction(i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != commandName {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	userID := ""
	if u := interactionUser(i); u != nil {
		userID = u.ID
	}
	result := b.lookup(ctx, userID, getOption(data.Options, "query"), "slash")

	err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: result.Response,
		},
	})
	if err != nil {
		b.log.ErrorContext(ctx, "failed to respond to interaction", "error", err)
	}
	b.logResult(ctx, "slash", i.ChannelID, result)
}

func (b *Bot) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == b.session.GetUserID() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	direct := m.GuildID == ""
	if direct {
		b.startPrivateChat(ctx, m)
	}

	query, ok := ExtractQuery(m.Content, b.config.CommandPrefix, b.session.GetUserID(), direct)
	if !ok {
		return
	}
	source := "direct"
	if !direct {
		source = "guild"
		// a reply that calls the bot looks up the message it replies to
		if m.ReferencedMessage != nil && strings.TrimSpace(m.ReferencedMessage.Content) != "" {
			b.log.InfoContext(ctx, "looking up referenced message", "message_id", m.ReferencedMessage.ID)
			query = strings.TrimSpace(m.ReferencedMessage.Content)
			source = "reply"
		}
	}
	if query == "" && direct {
		return
	}

	result := b.lookup(ctx, m.Author.ID, query, source)
	b.reply(ctx, m.ChannelID, m.ID, result.Response)
	b.logResult(ctx, source, m.ChannelID, result)
}

// lookup resolves a query for a user. It never returns an empty response.
func (b *Bot) lookup(ctx context.Context, userID, query, source string) handlerResult {
	metrics.CommandsTotal.WithLabelValues(source).Inc()

	if !b.limiter.Allow(userID) {
		limit, window := b.limiter.Limit()
		return handlerResult{
			Response: fmt.Sprintf("⏳ Slow down! You can look up %d words every %s.", limit, window),
			Err:      newUserError(fmt.Errorf("user %s: %w", userID, errRateLimited)),
		}
	}

	text, quoted := ExtractQuoted(query)
	answer, err := b.resolver.Resolve(ctx, text, quoted)
	if errors.Is(err, dictionary.ErrEmptyQuery) {
		return handlerResult{
			Response: fmt.Sprintf("Usage: `/%s query:<word>` or `%s <word>`", commandName, b.config.CommandPrefix),
			Err:      newUserError(err),
		}
	}
	if err != nil {
		return handlerResult{
			Response: "❌ Lookup failed. Please try again later.",
			Err:      fmt.Errorf("looking up %q: %w", text, err),
		}
	}

	b.log.InfoContext(ctx, "lookup",
		"query", answer.Query,
		"lookup_query", answer.LookupQuery,
		"converted", answer.Converted,
		"found", answer.Found,
	)
	return handlerResult{Response: truncate(answer.Text)}
}

func (b *Bot) logResult(ctx context.Context, source, channelID string, result handlerResult) {
	if result.Err == nil {
		return
	}
	var uerr *userError
	if errors.As(result.Err, &uerr) {
		b.log.WarnContext(ctx, "user error", "source", source, "error", result.Err, "channel_id", channelID)
		return
	}
	b.log.ErrorContext(ctx, "command failed", "source", source, "error", result.Err, "channel_id", channelID)
}

func (b *Bot) reply(ctx context.Context, channelID, messageID, content string) {
	_, err := b.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:   content,
		Reference: &discordgo.MessageReference{MessageID: messageID, ChannelID: channelID},
		AllowedMentions: &discordgo.MessageAllowedMentions{
			RepliedUser: false,
		},
	})
	if err != nil {
		b.log.ErrorContext(ctx, "failed to send reply", "error", err, "channel_id", channelID)
	}
}

func (b *Bot) send(ctx context.Context, channelID, content string) {
	if _, err := b.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Content: content}); err != nil {
		b.log.ErrorContext(ctx, "failed to send message", "error", err, "channel_id", channelID)
	}
}

// startPrivateChat records a direct conversation and greets the user the
// first time they write to the bot.
func (b *Bot) startPrivateChat(ctx context.Context, m *discordgo.MessageCreate) {
	name := displayName(m.Author)
	created, err := b.chats.UpsertChat(ctx, db.UpsertChatParams{
		ChatID: m.ChannelID,
		Kind:   db.ChatKindPrivate,
		Title:  name,
	})
	if err != nil {
		b.log.ErrorContext(ctx, "failed to record private chat", "error", err, "channel_id", m.ChannelID)
		return
	}
	if !created {
		return
	}
	b.log.InfoContext(ctx, "user started a private chat", "user", name)
	b.refreshChatGauge(ctx, db.ChatKindPrivate)
	b.send(ctx, m.ChannelID, fmt.Sprintf("Welcome %s.", name))
}

func (b *Bot) handleGuildCreate(g *discordgo.GuildCreate) {
	if g.Guild == nil || g.Unavailable {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	created, err := b.chats.UpsertChat(ctx, db.UpsertChatParams{
		ChatID: g.ID,
		Kind:   db.ChatKindGuild,
		Title:  g.Name,
	})
	if err != nil {
		b.log.ErrorContext(ctx, "failed to record guild", "error", err, "guild_id", g.ID)
		return
	}
	if created {
		b.log.InfoContext(ctx, "added to guild", "guild_id", g.ID, "guild", g.Name)
	}
	b.refreshChatGauge(ctx, db.ChatKindGuild)
}

func (b *Bot) handleGuildDelete(g *discordgo.GuildDelete) {
	// Unavailable means an outage, not a removal.
	if g.Guild == nil || g.Unavailable {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	n, err := b.chats.DeleteChat(ctx, g.ID)
	if err != nil {
		b.log.ErrorContext(ctx, "failed to forget guild", "error", err, "guild_id", g.ID)
		return
	}
	if n > 0 {
		b.log.InfoContext(ctx, "removed from guild", "guild_id", g.ID)
	}
	b.refreshChatGauge(ctx, db.ChatKindGuild)
}

func (b *Bot) handleGuildMemberAdd(m *discordgo.GuildMemberAdd) {
	if !b.config.Welcome || m.Member == nil || m.User == nil {
		return
	}
	if m.User.Bot || m.User.ID == b.session.GetUserID() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	channelID, err := b.session.SystemChannelID(m.GuildID)
	if err != nil {
		b.log.WarnContext(ctx, "failed to find system channel", "error", err, "guild_id", m.GuildID)
		return
	}
	if channelID == "" {
		return
	}
	b.send(ctx, channelID, fmt.Sprintf("ようこそ %sさん！", m.User.Mention()))
}

func (b *Bot) refreshChatGauge(ctx context.Context, kind string) {
	chats, err := b.chats.ListChats(ctx, kind)
	if err != nil {
		b.log.WarnContext(ctx, "failed to count chats", "error", err, "kind", kind)
		return
	}
	metrics.TrackedChats.WithLabelValues(kind).Set(float64(len(chats)))
}

func displayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}
