// Package core holds the domain types shared by the server and client
// reducers: users, channels, and the semantic events both sides speak.
package core

import "github.com/zhamlin/speakez/internal/mumble"

// ChannelID identifies a channel. The root channel is always 0.
type ChannelID uint32

// RootChannel is the reserved root of the channel tree.
const RootChannel ChannelID = 0

// User is one connected user as both sides see it.
type User struct {
	Name    string
	Session mumble.Session
	Channel ChannelID
}

// Channel is a named grouping of users. Channels form a tree rooted at
// RootChannel; every non-root channel has a parent that exists.
type Channel struct {
	ID          ChannelID
	Name        string
	Description string
	Temporary   bool
	MaxUsers    uint32 // 0 = unlimited
	Position    int32  // 0 = unset
	Parent      *ChannelID
}

// NewChannel builds a channel without position or parent.
func NewChannel(id ChannelID, name, description string) Channel {
	return Channel{ID: id, Name: name, Description: description}
}
