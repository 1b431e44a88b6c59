package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Filter 决定哪些消息需要处理。
type Filter struct {
	GuildID string
	// Channels 中的频道无需提及机器人。
	Channels map[string]bool
	// MentionChannels 中的频道必须提及机器人；为空时任意服务器频道在被提及时都会处理。
	MentionChannels map[string]bool
	AllowDM         bool
}

// NewFilter 根据频道列表构造过滤器。
func NewFilter(guildID string, channels, mentionChannels []string, allowDM bool) Filter {
	return Filter{
		GuildID:         guildID,
		Channels:        toSet(channels),
		MentionChannels: toSet(mentionChannels),
		AllowDM:         allowDM,
	}
}

// Accept 返回去掉提及后的消息正文；ok 为 false 表示忽略该消息。
func (f Filter) Accept(msg *discordgo.Message, selfID string) (string, bool) {
	if msg == nil || msg.Author == nil || msg.Author.Bot || msg.Author.ID == selfID {
		return "", false
	}

	mentioned := mentions(msg, selfID)
	switch {
	case msg.GuildID == "":
		if !f.AllowDM {
			return "", false
		}
	case f.GuildID != "" && msg.GuildID != f.GuildID:
		return "", false
	case f.Channels[msg.ChannelID]:
	case f.MentionChannels[msg.ChannelID]:
		if !mentioned {
			return "", false
		}
	case len(f.MentionChannels) == 0:
		if !mentioned {
			return "", false
		}
	default:
		return "", false
	}

	text := strings.TrimSpace(stripMention(msg.Content, selfID))
	if text == "" {
		return "", false
	}
	return text, true
}

func mentions(msg *discordgo.Message, selfID string) bool {
	if selfID == "" {
		return false
	}
	for _, user := range msg.Mentions {
		if user != nil && user.ID == selfID {
			return true
		}
	}
	return strings.Contains(msg.Content, "<@"+selfID+">") || strings.Contains(msg.Content, "<@!"+selfID+">")
}

func stripMention(content, selfID string) string {
	if selfID == "" {
		return content
	}
	content = strings.ReplaceAll(content, "<@!"+selfID+">", " ")
	return strings.ReplaceAll(content, "<@"+selfID+">", " ")
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = true
		}
	}
	return set
}
