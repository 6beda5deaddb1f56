package bot

import (
	"github.com/bwmarrin/discordgo"
)

// Sender is the part of the discord session responses need
type Sender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type ResponseString struct {
	string
}
type ResponseEmbed struct {
	discordgo.MessageEmbed
}

type Response interface {
	Send(channelid string, discord Sender) error
}

func (response ResponseString) Send(channelid string, discord Sender) error {
	_, err := discord.ChannelMessageSend(channelid, response.string)
	return err
}

func (response ResponseEmbed) Send(channelid string, discord Sender) error {
	_, err := discord.ChannelMessageSendEmbed(channelid, &response.MessageEmbed)
	return err
}
