package channel

import "strings"

// SessionPrefix namespaces host-side sessions owned by this bridge.
const SessionPrefix = "bluebubbles:"

// IsGroup reports whether a chat guid ("<service>;<sep>;<destination>")
// denotes a group conversation, i.e. its separator segment is "+".
func IsGroup(chatGUID string) bool {
	parts := strings.Split(chatGUID, ";")
	return len(parts) >= 2 && parts[1] == "+"
}

// SessionKey is the stable key the host uses for the conversation's state.
func SessionKey(chatGUID string) string {
	return SessionPrefix + chatGUID
}

// ChannelID labels a conversation for presentation only.
func ChannelID(isGroup bool, chatGUID, sender string) string {
	if isGroup {
		return "group:" + chatGUID
	}
	return "dm:" + sender
}
