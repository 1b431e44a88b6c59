// Package discord connects the dispatch pipeline to a Discord bot: incoming
// messages become jobs and finished jobs are posted back as replies.
package discord
