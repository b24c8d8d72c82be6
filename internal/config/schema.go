package config

// PluginID identifies the bridge's config section on the host.
const PluginID = "bluebubbles"

// Schema describes the bluebubbles config section for host-side validation
// and settings UIs.
func Schema() map[string]any {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	list := func(desc string) map[string]any {
		return map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": desc,
		}
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"serverUrl": str("BlueBubbles server URL (falls back to " + EnvServerURL + ")"),
			"password":  str("BlueBubbles server password (falls back to " + EnvPassword + ")"),
			"dmPolicy": map[string]any{
				"type": "string",
				"enum": []string{PolicyOpen, PolicyAllowlist, PolicyPairing, PolicyDisabled},
			},
			"groupPolicy": map[string]any{
				"type": "string",
				"enum": []string{PolicyOpen, PolicyAllowlist, PolicyDisabled},
			},
			"allowFrom":      list("Sender addresses allowed in direct chats; \"*\" allows everyone"),
			"groupAllowFrom": list("Sender addresses allowed in group chats; defaults to allowFrom"),
			"attachments": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"enabled": map[string]any{"type": "boolean", "default": true},
				},
			},
			"mediaMaxMb":            map[string]any{"type": "integer", "minimum": 0, "default": DefaultMediaMaxMB},
			"textChunkLimit":        map[string]any{"type": "integer", "minimum": 1, "maximum": MaxTextChunkLimit, "default": MaxTextChunkLimit},
			"sendRatePerSecond":     map[string]any{"type": "number", "minimum": 0},
			"sendReadReceipts":      map[string]any{"type": "boolean", "default": true},
			"ackReaction":           str("Tapback sent when a message is accepted (love, like, dislike, laugh, emphasize, question)"),
			"requestTimeoutSeconds": map[string]any{"type": "integer", "minimum": 1, "default": DefaultRequestTimeout},
			"reconnectDelaySeconds": map[string]any{"type": "integer", "minimum": 1, "default": DefaultReconnectDelay},
		},
	}
}
