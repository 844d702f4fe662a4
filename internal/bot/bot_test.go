package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jusunglee/jishobot/internal/db"
	"github.com/jusunglee/jishobot/internal/dictionary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock implementations

type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	m.Called(ctx, msg, args)
}

func (m *MockLogger) Info(msg string, args ...any) {
	m.Called(msg, args)
}

func (m *MockLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	m.Called(ctx, msg, args)
}

func (m *MockLogger) Warn(msg string, args ...any) {
	m.Called(msg, args)
}

func (m *MockLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	m.Called(ctx, msg, args)
}

func (m *MockLogger) Error(msg string, args ...any) {
	m.Called(msg, args)
}

func (m *MockLogger) With(args ...any) Logger {
	ret := m.Called(args)
	return ret.Get(0).(Logger)
}

type MockDiscordSession struct {
	mock.Mock
}

func (m *MockDiscordSession) AddHandler(handler interface{}) func() {
	ret := m.Called(handler)
	return ret.Get(0).(func())
}

func (m *MockDiscordSession) Open() error {
	ret := m.Called()
	return ret.Error(0)
}

func (m *MockDiscordSession) Close() error {
	ret := m.Called()
	return ret.Error(0)
}

func (m *MockDiscordSession) ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	ret := m.Called(appID, guildID, commands, options)
	return ret.Get(0).([]*discordgo.ApplicationCommand), ret.Error(1)
}

func (m *MockDiscordSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	ret := m.Called(channelID, data, options)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(*discordgo.Message), ret.Error(1)
}

func (m *MockDiscordSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	ret := m.Called(interaction, resp, options)
	return ret.Error(0)
}

func (m *MockDiscordSession) GetUserID() string {
	ret := m.Called()
	return ret.String(0)
}

func (m *MockDiscordSession) SystemChannelID(guildID string) (string, error) {
	ret := m.Called(guildID)
	return ret.String(0), ret.Error(1)
}

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, query string, raw bool) (dictionary.Answer, error) {
	ret := m.Called(ctx, query, raw)
	return ret.Get(0).(dictionary.Answer), ret.Error(1)
}

type MockChatStore struct {
	mock.Mock
}

func (m *MockChatStore) UpsertChat(ctx context.Context, arg db.UpsertChatParams) (bool, error) {
	ret := m.Called(ctx, arg)
	return ret.Bool(0), ret.Error(1)
}

func (m *MockChatStore) DeleteChat(ctx context.Context, chatID string) (int64, error) {
	ret := m.Called(ctx, chatID)
	return ret.Get(0).(int64), ret.Error(1)
}

func (m *MockChatStore) ListChats(ctx context.Context, kind string) ([]db.Chat, error) {
	ret := m.Called(ctx, kind)
	return ret.Get(0).([]db.Chat), ret.Error(1)
}

const botID = "bot-1"

type testDeps struct {
	log      *MockLogger
	session  *MockDiscordSession
	resolver *MockResolver
	chats    *MockChatStore
}

// newTestBot returns a bot whose logger accepts any call.
func newTestBot(config Config) (*Bot, testDeps) {
	deps := testDeps{
		log:      new(MockLogger),
		session:  new(MockDiscordSession),
		resolver: new(MockResolver),
		chats:    new(MockChatStore),
	}
	for _, method := range []string{"InfoContext", "WarnContext", "ErrorContext"} {
		deps.log.On(method, mock.Anything, mock.Anything, mock.Anything).Return().Maybe()
	}
	for _, method := range []string{"Info", "Warn", "Error"} {
		deps.log.On(method, mock.Anything, mock.Anything).Return().Maybe()
	}
	deps.session.On("GetUserID").Return(botID).Maybe()

	b := New(deps.log, deps.session, deps.resolver, deps.chats, NewRateLimiter(5, time.Minute), config)
	return b, deps
}

func sentContent(content string) interface{} {
	return mock.MatchedBy(func(m *discordgo.MessageSend) bool {
		return m.Content == content
	})
}

func guildMessage(content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "msg-1",
		ChannelID: "chan-1",
		GuildID:   "guild-1",
		Content:   content,
		Author:    &discordgo.User{ID: "user-1", Username: "taro"},
	}}
}

func directMessage(content string) *discordgo.MessageCreate {
	m := guildMessage(content)
	m.GuildID = ""
	m.ChannelID = "dm-1"
	return m
}

func TestExtractQuery(t *testing.T) {
	tests := []struct {
		name    string
		content string
		direct  bool
		want    string
		wantOK  bool
	}{
		{"direct plain", "neko", true, "neko", true},
		{"direct with prefix", "!jisho  neko ", true, "neko", true},
		{"guild plain is ignored", "neko", false, "", false},
		{"guild prefix", "!jisho neko", false, "neko", true},
		{"guild prefix only", "!jisho", false, "", true},
		{"guild longer command is not prefix", "!jishobot neko", false, "", false},
		{"guild mention", "<@bot-1> neko", false, "neko", true},
		{"guild nick mention", "hey <@!bot-1>   inu", false, "hey inu", true},
		{"guild other mention", "<@someone> neko", false, "", false},
		{"full-width space after prefix", "!jisho　ねこ", false, "ねこ", true},
		{"multi-line kept", "!jisho\nneko", false, "neko", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractQuery(tt.content, DefaultCommandPrefix, botID, tt.direct)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractQuoted(t *testing.T) {
	tests := []struct {
		in         string
		want       string
		wantQuoted bool
	}{
		{`"neko"`, "neko", true},
		{` "neko" `, "neko", true},
		{`""`, "", true},
		{`"`, `"`, false},
		{`neko`, "neko", false},
		{`"neko`, `"neko`, false},
	}
	for _, tt := range tests {
		got, quoted := ExtractQuoted(tt.in)
		if got != tt.want || quoted != tt.wantQuoted {
			t.Errorf("ExtractQuoted(%q) = (%q, %v), want (%q, %v)", tt.in, got, quoted, tt.want, tt.wantQuoted)
		}
	}
}

func TestTruncate(t *testing.T) {
	short := strings.Repeat("ね", maxMessageLength)
	assert.Equal(t, short, truncate(short))

	long := truncate(strings.Repeat("ね", maxMessageLength+10))
	assert.Equal(t, maxMessageLength, len([]rune(long)))
	assert.True(t, strings.HasSuffix(long, "…"))
}

func TestHandleMessageGuild(t *testing.T) {
	t.Run("prefix command is answered", func(t *testing.T) {
		b, deps := newTestBot(Config{})
		deps.resolver.On("Resolve", mock.Anything, "neko", false).
			Return(dictionary.Answer{Query: "neko", LookupQuery: "ねこ", Converted: true, Text: "(猫)\n[ねこ]\ncat", Found: true}, nil)
		deps.session.On("ChannelMessageSendComplex", "chan-1", mock.MatchedBy(func(m *discordgo.MessageSend) bool {
			return m.Content == "(猫)\n[ねこ]\ncat" && m.Reference != nil && m.Reference.MessageID == "msg-1"
		}), mock.Anything).Return(&discordgo.Message{ID: "reply-1"}, nil)

		b.handleMessage(guildMessage("!jisho neko"))

		deps.resolver.AssertExpectations(t)
		deps.session.AssertExpectations(t)
	})

	t.Run("quoted query skips conversion", func(t *testing.T) {
		b, deps := newTestBot(Config{})
		deps.resolver.On("Resolve", mock.Anything, "neko", true).
			Return(dictionary.Answer{Query: "neko", LookupQuery: "neko", Text: dictionary.NotFoundMessage("neko")}, nil)
		deps.session.On("ChannelMessageSendComplex", "chan-1", sentContent(`Nothing found for "neko"`), mock.Anything).
			Return(&discordgo.Message{}, nil)

		b.handleMessage(guildMessage(`<@bot-1> "neko"`))

		deps.resolver.AssertExpectations(t)
		deps.session.AssertExpectations(t)
	})

	t.Run("unaddressed message is ignored", func(t *testing.T) {
		b, deps := newTestBot(Config{})
		b.handleMessage(guildMessage("neko"))
		deps.resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("bots are ignored", func(t *testing.T) {
		b, deps := newTestBot(Config{})
		m := guildMessage("!jisho neko")
		m.Author.Bot = true
		b.handleMessage(m)
		deps.resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("reply looks up referenced message", func(t *testing.T) {
		b, deps := newTestBot(Config{})
		m := guildMessage("<@bot-1>")
		m.ReferencedMessage = &discordgo.Message{ID: "msg-0", Content: " 猫 "}
		deps.resolver.On("Resolve", mock.Anything, "猫", false).
			Return(dictionary.Answer{Query: "猫", LookupQuery: "猫", Text: "cat", Found: true}, nil)
		deps.session.On("ChannelMessageSendComplex", "chan-1", sentContent("cat"), mock.Anything).
			Return(&discordgo.Message{}, nil)

		b.handleMessage(m)

		deps.resolver.AssertExpectations(t)
	})

	t.Run("empty prefix command gets usage", func(t *testing.T) {
		b, deps := newTestBot(Config{})
		deps.resolver.On("Resolve", mock.Anything, "", false).Return(dictionary.Answer{}, dictionary.ErrEmptyQuery)
		deps.session.On("ChannelMessageSendComplex", "chan-1", mock.MatchedBy(func(m *discordgo.MessageSend) bool {
			return strings.HasPrefix(m.Content, "Usage:")
		}), mock.Anything).Return(&discordgo.Message{}, nil)

		b.handleMessage(guildMessage("!jisho"))

		deps.session.AssertExpectations(t)
		deps.log.AssertCalled(t, "WarnContext", mock.Anything, "user error", mock.Anything)
	})

	t.Run("lookup failure is reported", func(t *testing.T) {
		b, deps := newTestBot(Config{})
		deps.resolver.On("Resolve", mock.Anything, "neko", false).Return(dictionary.Answer{}, errors.New("db down"))
		deps.session.On("ChannelMessageSendComplex", "chan-1", sentContent("❌ Lookup failed. Please try again later."), mock.Anything).
			Return(&discordgo.Message{}, nil)

		b.handleMessage(guildMessage("!jisho neko"))

		deps.session.AssertExpectations(t)
		deps.log.AssertCalled(t, "ErrorContext", mock.Anything, "command failed", mock.Anything)
	})
}

func TestHandleMessageRateLimited(t *testing.T) {
	b, deps := newTestBot(Config{})
	b.limiter = NewRateLimiter(1, time.Minute)

	deps.resolver.On("Resolve", mock.Anything, "neko", false).
		Return(dictionary.Answer{Query: "neko", Text: "cat", Found: true}, nil).Once()
	deps.session.On("ChannelMessageSendComplex", "chan-1", sentContent("cat"), mock.Anything).
		Return(&discordgo.Message{}, nil).Once()
	deps.session.On("ChannelMessageSendComplex", "chan-1", mock.MatchedBy(func(m *discordgo.MessageSend) bool {
		return strings.HasPrefix(m.Content, "⏳")
	}), mock.Anything).Return(&discordgo.Message{}, nil).Once()

	b.handleMessage(guildMessage("!jisho neko"))
	b.handleMessage(guildMessage("!jisho neko"))

	deps.resolver.AssertExpectations(t)
	deps.session.AssertExpectations(t)
}

func TestHandleMessageDirect(t *testing.T) {
	t.Run("first message is greeted", func(t *testing.T) {
		b, deps := newTestBot(Config{})
		deps.chats.On("UpsertChat", mock.Anything, db.UpsertChatParams{ChatID: "dm-1", Kind: db.ChatKindPrivate, Title: "taro"}).
			Return(true, nil)
		deps.chats.On("ListChats", mock.Anything, db.ChatKindPrivate).Return([]db.Chat{{ChatID: "dm-1"}}, nil)
		deps.resolver.On("Resolve", mock.Anything, "inu", false).
			Return(dictionary.Answer{Query: "inu", LookupQuery: "いぬ", Converted: true, Text: "dog", Found: true}, nil)
		deps.session.On("ChannelMessageSendComplex", "dm-1", sentContent("Welcome taro."), mock.Anything).
			Return(&discordgo.Message{}, nil).Once()
		deps.session.On("ChannelMessageSendComplex", "dm-1", sentContent("dog"), mock.Anything).
			Return(&discordgo.Message{}, nil).Once()

		b.handleMessage(directMessage("inu"))

		deps.chats.AssertExpectations(t)
		deps.session.AssertExpectations(t)
	})

	t.Run("known chat is not greeted again", func(t *testing.T) {
		b, deps := newTestBot(Config{})
		deps.chats.On("UpsertChat", mock.Anything, mock.Anything).Return(false, nil)
		deps.resolver.On("Resolve", mock.Anything, "inu", false).Return(dictionary.Answer{Text: "dog", Found: true}, nil)
		deps.session.On("ChannelMessageSendComplex", "dm-1", sentContent("dog"), mock.Anything).
			Return(&discordgo.Message{}, nil).Once()

		b.handleMessage(directMessage("!jisho inu"))

		deps.session.AssertExpectations(t)
		deps.chats.AssertNotCalled(t, "ListChats", mock.Anything, mock.Anything)
	})

	t.Run("store failure still answers", func(t *testing.T) {
		b, deps := newTestBot(Config{})
		deps.chats.On("UpsertChat", mock.Anything, mock.Anything).Return(false, errors.New("locked"))
		deps.resolver.On("Resolve", mock.Anything, "inu", false).Return(dictionary.Answer{Text: "dog", Found: true}, nil)
		deps.session.On("ChannelMessageSendComplex", "dm-1", sentContent("dog"), mock.Anything).
			Return(&discordgo.Message{}, nil).Once()

		b.handleMessage(directMessage("inu"))

		deps.session.AssertExpectations(t)
	})
}

func TestHandleInteraction(t *testing.T) {
	b, deps := newTestBot(Config{})
	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		ChannelID: "chan-1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "user-1"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "jisho",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "query", Type: discordgo.ApplicationCommandOptionString, Value: "neko"},
			},
		},
	}}
	deps.resolver.On("Resolve", mock.Anything, "neko", false).
		Return(dictionary.Answer{Text: "cat", Found: true}, nil)
	deps.session.On("InteractionRespond", i.Interaction, mock.MatchedBy(func(r *discordgo.InteractionResponse) bool {
		return r.Type == discordgo.InteractionResponseChannelMessageWithSource && r.Data.Content == "cat"
	}), mock.Anything).Return(nil)

	b.handleInteraction(i)

	deps.resolver.AssertExpectations(t)
	deps.session.AssertExpectations(t)
}

func TestGuildMembership(t *testing.T) {
	t.Run("guild create records chat", func(t *testing.T) {
		b, deps := newTestBot(Config{})
		deps.chats.On("UpsertChat", mock.Anything, db.UpsertChatParams{ChatID: "guild-1", Kind: db.ChatKindGuild, Title: "Nihongo"}).
			Return(true, nil)
		deps.chats.On("ListChats", mock.Anything, db.ChatKindGuild).Return([]db.Chat{{ChatID: "guild-1"}}, nil)

		b.handleGuildCreate(&discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "guild-1", Name: "Nihongo"}})

		deps.chats.AssertExpectations(t)
	})

	t.Run("unavailable guild is skipped", func(t *testing.T) {
		b, deps := newTestBot(Config{})
		b.handleGuildCreate(&discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "guild-1", Unavailable: true}})
		b.handleGuildDelete(&discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "guild-1", Unavailable: true}})
		deps.chats.AssertNotCalled(t, "UpsertChat", mock.Anything, mock.Anything)
		deps.chats.AssertNotCalled(t, "DeleteChat", mock.Anything, mock.Anything)
	})

	t.Run("guild delete forgets chat", func(t *testing.T) {
		b, deps := newTestBot(Config{})
		deps.chats.On("DeleteChat", mock.Anything, "guild-1").Return(int64(1), nil)
		deps.chats.On("ListChats", mock.Anything, db.ChatKindGuild).Return([]db.Chat{}, nil)

		b.handleGuildDelete(&discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "guild-1"}})

		deps.chats.AssertExpectations(t)
	})
}

func TestGuildMemberAdd(t *testing.T) {
	member := func(id string, isBot bool) *discordgo.GuildMemberAdd {
		return &discordgo.GuildMemberAdd{Member: &discordgo.Member{
			GuildID: "guild-1",
			User:    &discordgo.User{ID: id, Bot: isBot},
		}}
	}

	t.Run("welcomes new member", func(t *testing.T) {
		b, deps := newTestBot(Config{Welcome: true})
		deps.session.On("SystemChannelID", "guild-1").Return("system-1", nil)
		deps.session.On("ChannelMessageSendComplex", "system-1", sentContent("ようこそ <@user-2>さん！"), mock.Anything).
			Return(&discordgo.Message{}, nil)

		b.handleGuildMemberAdd(member("user-2", false))

		deps.session.AssertExpectations(t)
	})

	t.Run("disabled", func(t *testing.T) {
		b, deps := newTestBot(Config{})
		b.handleGuildMemberAdd(member("user-2", false))
		deps.session.AssertNotCalled(t, "SystemChannelID", mock.Anything)
	})

	t.Run("skips bots and itself", func(t *testing.T) {
		b, deps := newTestBot(Config{Welcome: true})
		b.handleGuildMemberAdd(member(botID, true))
		b.handleGuildMemberAdd(member("other-bot", true))
		deps.session.AssertNotCalled(t, "SystemChannelID", mock.Anything)
	})

	t.Run("no system channel", func(t *testing.T) {
		b, deps := newTestBot(Config{Welcome: true})
		deps.session.On("SystemChannelID", "guild-1").Return("", nil)
		b.handleGuildMemberAdd(member("user-2", false))
		deps.session.AssertNotCalled(t, "ChannelMessageSendComplex", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRun(t *testing.T) {
	t.Run("open error", func(t *testing.T) {
		b, deps := newTestBot(Config{})
		deps.session.On("AddHandler", mock.Anything).Return(func() {})
		deps.session.On("Open").Return(errors.New("invalid token"))

		err := b.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "opening Discord connection")
	})

	t.Run("registers guild commands and closes on cancel", func(t *testing.T) {
		b, deps := newTestBot(Config{GuildID: "guild-1"})
		deps.session.On("AddHandler", mock.Anything).Return(func() {})
		deps.session.On("Open").Return(nil)
		deps.session.On("ApplicationCommandBulkOverwrite", botID, "", []*discordgo.ApplicationCommand{}, mock.Anything).
			Return([]*discordgo.ApplicationCommand{}, nil)
		deps.session.On("ApplicationCommandBulkOverwrite", botID, "guild-1", commands, mock.Anything).
			Return(commands, nil)
		deps.session.On("Close").Return(nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, b.Run(ctx))

		deps.session.AssertExpectations(t)
		deps.session.AssertNumberOfCalls(t, "AddHandler", 6)
	})
}
