package app

import "github.com/nhle/chatsync/internal/keys"

// KeyMap is the console keymap.
type KeyMap = keys.KeyMap

// DefaultKeyMap delegates to keys.DefaultKeyMap.
func DefaultKeyMap() *KeyMap {
	return keys.DefaultKeyMap()
}
