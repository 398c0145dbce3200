package discordbot

import (
	"github.com/bwmarrin/discordgo"
)

// chat is the slice of the Discord API the bot uses.
type chat interface {
	me() *discordgo.User
	channel(id string) (*discordgo.Channel, error)
	guild(id string) (*discordgo.Guild, error)
	myRoles(guildID string) []string
	reply(m *discordgo.Message, content string) error
	send(channelID, content string) error
	react(channelID, messageID string) error
	unreact(channelID, messageID string) error
	createChannel(guildID, name string) (*discordgo.Channel, error)
	dm(userID, content string) error
}

// sessionChat serves lookups from the state cache before hitting the API.
type sessionChat struct {
	s *discordgo.Session
}

func (c *sessionChat) me() *discordgo.User {
	if c.s.State != nil && c.s.State.User != nil {
		return c.s.State.User
	}
	return &discordgo.User{}
}

func (c *sessionChat) channel(id string) (*discordgo.Channel, error) {
	if ch, err := c.s.State.Channel(id); err == nil {
		return ch, nil
	}
	return c.s.Channel(id)
}

func (c *sessionChat) guild(id string) (*discordgo.Guild, error) {
	if g, err := c.s.State.Guild(id); err == nil {
		return g, nil
	}
	return c.s.Guild(id)
}

func (c *sessionChat) myRoles(guildID string) []string {
	me := c.me()
	if m, err := c.s.State.Member(guildID, me.ID); err == nil {
		return m.Roles
	}
	if m, err := c.s.GuildMember(guildID, me.ID); err == nil {
		return m.Roles
	}
	return nil
}

func (c *sessionChat) reply(m *discordgo.Message, content string) error {
	_, err := c.s.ChannelMessageSendReply(m.ChannelID, content, m.Reference())
	return err
}

func (c *sessionChat) send(channelID, content string) error {
	_, err := c.s.ChannelMessageSend(channelID, content)
	return err
}

func (c *sessionChat) react(channelID, messageID string) error {
	return c.s.MessageReactionAdd(channelID, messageID, Reaction)
}

func (c *sessionChat) unreact(channelID, messageID string) error {
	return c.s.MessageReactionRemove(channelID, messageID, Reaction, "@me")
}

func (c *sessionChat) createChannel(guildID, name string) (*discordgo.Channel, error) {
	return c.s.GuildChannelCreate(guildID, name, discordgo.ChannelTypeGuildText)
}

func (c *sessionChat) dm(userID, content string) error {
	ch, err := c.s.UserChannelCreate(userID)
	if err != nil {
		return err
	}
	_, err = c.s.ChannelMessageSend(ch.ID, content)
	return err
}
