package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsGroup(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"iMessage;+;chat123", true},
		{"SMS;+;chat123", true},
		{"iMessage;-;+15551234567", false},
		{"iMessage;+", true},
		{"iMessage", false},
		{"", false},
		{";", false},
		{";+;", true},
		{"iMessage;++;chat", false},
		{"iMessage; + ;chat", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsGroup(tt.in), "IsGroup(%q)", tt.in)
	}
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "bluebubbles:iMessage;-;+15551234567", SessionKey("iMessage;-;+15551234567"))
	assert.Equal(t, SessionKey("x"), SessionKey("x"))
}

func TestChannelID(t *testing.T) {
	assert.Equal(t, "group:iMessage;+;chat1", ChannelID(true, "iMessage;+;chat1", "+1555"))
	assert.Equal(t, "dm:+1555", ChannelID(false, "iMessage;-;+1555", "+1555"))
}
