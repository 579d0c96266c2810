// Package discord implements the chat.Client boundary on the discordgo
// library. It owns the websocket session to Discord, pins the first guild
// the bot lands in, and converts raw gateway payloads into the closed
// chat.Event union before handing them to the gateway.
//
// Interactions are acknowledged here so Discord never shows a spinner:
// slash commands get an ephemeral receipt, component clicks a deferred
// update. What happens to the event afterwards is the gateway's business.
package discord
