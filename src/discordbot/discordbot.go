// Package discordbot turns messages in a dedicated Discord channel into
// board rooms.
package discordbot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/stake-plus/roomboard/src/board"
	"github.com/stake-plus/roomboard/src/board/validate"
	"github.com/stake-plus/roomboard/src/logging"
)

// Reaction marks messages that made it onto the board.
const Reaction = "✅"

const requestTimeout = 10 * time.Second

// Board is the part of the board manager the adapter drives.
type Board interface {
	Save(ctx context.Context, raw validate.Fields) (board.Room, error)
	Destroy(ctx context.Context, raw validate.Fields) error
}

type Options struct {
	Token     string
	Master    string
	Channel   string
	BoardURL  string
	InviteURL string
	// TTL bounds how long a posted message is remembered for deletes.
	TTL time.Duration
}

// DiscordBot is a modules.Module that feeds one channel per guild into the
// board.
type DiscordBot struct {
	session   *discordgo.Session
	chat      chat
	board     Board
	parser    board.Parser
	describer board.Describer
	plugin    board.Plugin
	opts      Options

	mu      sync.Mutex
	tracked map[string]tracked
	now     func() time.Time
}

// tracked remembers a message the bot reacted to.
type tracked struct {
	content string
	raw     validate.Fields
	at      time.Time
}

// NewDiscordBot creates the session and wires event handlers. The plugin
// must be able to parse chat messages.
func NewDiscordBot(opts Options, b Board, plugin board.Plugin) (*DiscordBot, error) {
	dg, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, err
	}
	bot, err := newBot(opts, b, plugin, &sessionChat{s: dg})
	if err != nil {
		return nil, err
	}
	bot.session = dg

	dg.AddHandler(bot.handleReady)
	dg.AddHandler(bot.handleGuildCreate)
	dg.AddHandler(bot.handleMessageCreate)
	dg.AddHandler(bot.handleMessageUpdate)
	dg.AddHandler(bot.handleMessageDelete)

	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions | discordgo.IntentsMessageContent

	return bot, nil
}

func newBot(opts Options, b Board, plugin board.Plugin, c chat) (*DiscordBot, error) {
	parser, ok := plugin.(board.Parser)
	if !ok {
		return nil, fmt.Errorf("discordbot: plugin %s cannot parse messages", plugin.Name())
	}
	describer, _ := plugin.(board.Describer)
	if opts.Channel == "" {
		opts.Channel = "multi-rooms"
	}
	if opts.TTL <= 0 {
		opts.TTL = board.DefaultTTL
	}
	return &DiscordBot{
		chat:      c,
		board:     b,
		parser:    parser,
		describer: describer,
		plugin:    plugin,
		opts:      opts,
		tracked:   make(map[string]tracked),
		now:       time.Now,
	}, nil
}

func (b *DiscordBot) Name() string { return "discord" }

func (b *DiscordBot) Start(ctx context.Context) error {
	return b.session.Open()
}

func (b *DiscordBot) Stop(ctx context.Context) {
	if err := b.session.Close(); err != nil {
		zap.L().Named("discord").Warn("close session", zap.Error(err))
	}
}

// Description is the plugin text with placeholders filled in.
func (b *DiscordBot) Description() string {
	text := b.plugin.Description() +
		"\nPosts without a room number and mentions for others are ignored."
	return strings.NewReplacer("{channel}", b.opts.Channel, "{reaction}", Reaction).Replace(text)
}

// Usage tells a guild where its board lives.
func (b *DiscordBot) Usage(guildID string) string {
	if b.opts.BoardURL == "" {
		return "The board URL is not configured. Please let the bot admin know."
	}
	return fmt.Sprintf("The board is at\n<%s>\nTo see only this server's rooms use\n<%s?guild=%s>",
		b.opts.BoardURL, b.opts.BoardURL, guildID)
}

func (b *DiscordBot) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	log := zap.L().Named("discord")
	log.Info("logged in", zap.String("user", r.User.Username), zap.Int("guilds", len(r.Guilds)), zap.String("invite", b.opts.InviteURL))
	if b.opts.Master != "" {
		msg := fmt.Sprintf("Board bot online in %d guilds.", len(r.Guilds))
		if err := b.chat.dm(b.opts.Master, msg); err != nil {
			log.Warn("could not greet master", zap.Error(err))
		}
	}
}

// handleGuildCreate fires for every guild at startup and whenever the bot
// joins a new one.
func (b *DiscordBot) handleGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil || g.Unavailable {
		return
	}
	b.prepare(g.Guild)
}

// prepare makes sure the guild has the board channel and introduces the bot
// in a freshly created one.
func (b *DiscordBot) prepare(g *discordgo.Guild) {
	log := zap.L().Named("discord").With(zap.String("guild", g.Name))
	for _, ch := range g.Channels {
		if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == b.opts.Channel {
			return
		}
	}

	ch, err := b.chat.createChannel(g.ID, b.opts.Channel)
	if err != nil {
		if isForbidden(err) {
			log.Error("missing permission to create channel, notifying owner", zap.String("owner", g.OwnerID))
			msg := fmt.Sprintf("I could not create my channel in \"%s\" because of missing permissions. Please invite me again: <%s>", g.Name, b.opts.InviteURL)
			if err := b.chat.dm(g.OwnerID, msg); err != nil {
				log.Warn("could not notify owner", zap.Error(err))
			}
			return
		}
		log.Error("create channel", zap.Error(err))
		return
	}
	log.Info("created channel", zap.String("channel", ch.Name))

	for _, msg := range []string{b.Description(), b.Usage(g.ID)} {
		if err := b.chat.send(ch.ID, msg); err != nil {
			b.logSendError(err)
			return
		}
	}
}

func (b *DiscordBot) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	b.onMessage(ctx, m.Message)
}

func (b *DiscordBot) handleMessageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	b.onEdit(ctx, m.Message)
}

func (b *DiscordBot) handleMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	b.onDelete(ctx, m.ID)
}

func (b *DiscordBot) onMessage(ctx context.Context, m *discordgo.Message) {
	if !b.isTarget(m) {
		return
	}
	log := zap.L().Named("discord")
	me := b.chat.me()

	if (mentions(m, me.ID) || b.roleMentioned(m)) && strings.Contains(strings.ToLower(m.Content), "url") {
		if err := b.chat.reply(m, b.Usage(m.GuildID)); err != nil {
			b.logSendError(err)
		}
		return
	}

	raw, ok := b.extract(m, me)
	if !ok {
		return
	}
	room, err := b.board.Save(ctx, raw)
	if err != nil {
		var verr *validate.Error
		if errors.As(err, &verr) {
			if err := b.chat.reply(m, verr.Message); err != nil {
				b.logSendError(err)
			}
			return
		}
		log.Error("save room", zap.String("message", m.ID), zap.Error(err))
		return
	}

	b.track(m.ID, m.Content, raw)
	if err := b.chat.react(m.ChannelID, m.ID); err != nil {
		b.logSendError(err)
	}
	if b.describer == nil {
		return
	}
	if text := b.describer.Describe("saved", room); text != "" {
		if err := b.chat.reply(m, text); err != nil {
			b.logSendError(err)
		}
	}
}

// onEdit re-processes a message whose content changed.
func (b *DiscordBot) onEdit(ctx context.Context, m *discordgo.Message) {
	if m.Author == nil || m.Content == "" {
		return
	}
	b.mu.Lock()
	prev, wasTracked := b.tracked[m.ID]
	b.mu.Unlock()
	if wasTracked && prev.content == m.Content {
		return
	}
	if wasTracked {
		b.forget(m.ID)
		if err := b.chat.unreact(m.ChannelID, m.ID); err != nil {
			b.logSendError(err)
		}
	}
	b.onMessage(ctx, m)
}

// onDelete destroys the room of a message the bot had accepted.
func (b *DiscordBot) onDelete(ctx context.Context, messageID string) {
	b.mu.Lock()
	t, ok := b.tracked[messageID]
	b.mu.Unlock()
	if !ok {
		return
	}
	b.forget(messageID)
	if err := b.board.Destroy(ctx, t.raw); err != nil {
		zap.L().Named("discord").Error("destroy room", zap.String("message", messageID), zap.Error(err))
	}
}

// isTarget filters out bots, messages for someone else and anything outside
// the board channel.
func (b *DiscordBot) isTarget(m *discordgo.Message) bool {
	log := zap.L().Named("discord")
	if m.Author == nil || m.Author.Bot || m.Author.System {
		return false
	}
	me := b.chat.me()
	if len(m.Mentions) > 0 && !mentions(m, me.ID) {
		log.Debug("message is for others", zap.String("message", m.ID))
		return false
	}
	if len(m.MentionRoles) > 0 && !b.roleMentioned(m) {
		log.Debug("message is for other roles", zap.String("message", m.ID))
		return false
	}
	if m.GuildID == "" {
		return false
	}
	ch, err := b.chat.channel(m.ChannelID)
	if err != nil {
		log.Debug("unknown channel", zap.String("channel", m.ChannelID), zap.Error(err))
		return false
	}
	return ch.Name == b.opts.Channel
}

func (b *DiscordBot) roleMentioned(m *discordgo.Message) bool {
	if len(m.MentionRoles) == 0 {
		return false
	}
	mine := make(map[string]bool)
	for _, r := range b.chat.myRoles(m.GuildID) {
		mine[r] = true
	}
	for _, r := range m.MentionRoles {
		if mine[r] {
			return true
		}
	}
	return false
}

// extract parses the message and attaches owner, guild and time.
func (b *DiscordBot) extract(m *discordgo.Message, me *discordgo.User) (validate.Fields, bool) {
	content := strings.ReplaceAll(m.ContentWithMentionsReplaced(), "@"+me.Username, "")
	raw, ok := b.parser.Parse(strings.TrimSpace(content))
	if !ok {
		return nil, false
	}

	raw["owner"] = map[string]any{"id": m.Author.ID, "name": displayName(m)}
	guild := map[string]any{"id": m.GuildID}
	if g, err := b.chat.guild(m.GuildID); err == nil && g.Name != "" {
		guild["name"] = g.Name
	}
	raw["guild"] = guild
	if m.EditedTimestamp != nil {
		raw["time"] = *m.EditedTimestamp
	} else {
		raw["time"] = m.Timestamp
	}
	return raw, true
}

func (b *DiscordBot) track(messageID, content string, raw validate.Fields) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	for id, t := range b.tracked {
		if now.Sub(t.at) > b.opts.TTL {
			delete(b.tracked, id)
		}
	}
	b.tracked[messageID] = tracked{content: content, raw: raw, at: now}
}

func (b *DiscordBot) forget(messageID string) {
	b.mu.Lock()
	delete(b.tracked, messageID)
	b.mu.Unlock()
}

func (b *DiscordBot) logSendError(err error) {
	log := zap.L().Named("discord")
	if logging.IsRateLimit(err) {
		log.Warn("rate limited", zap.Error(err))
		return
	}
	log.Error("discord request failed", zap.Error(err))
}

func mentions(m *discordgo.Message, userID string) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == userID {
			return true
		}
	}
	return false
}

func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

func isForbidden(err error) bool {
	var rest *discordgo.RESTError
	return errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusForbidden
}
