package security

import (
	"strings"

	"bluebridge/internal/config"
)

// Wildcard in an allow-list admits any sender.
const Wildcard = "*"

// Policy decides which senders may trigger a reply. It is built once from the
// plugin config and never mutated, so it is safe for concurrent use.
type Policy struct {
	dmPolicy    string
	groupPolicy string
	allowFrom   []string
	groupAllow  []string // nil means "not configured"
}

// NewPolicy snapshots the admission settings of cfg.
func NewPolicy(cfg config.BlueBubblesConfig) *Policy {
	p := &Policy{
		dmPolicy:    normalizePolicy(cfg.DMPolicy),
		groupPolicy: normalizePolicy(cfg.GroupPolicy),
		allowFrom:   cleanList(cfg.AllowFrom),
	}
	if cfg.GroupAllowFrom != nil {
		p.groupAllow = cleanList(cfg.GroupAllowFrom)
	}
	return p
}

// IsAllowed reports whether sender may trigger processing in a group or
// direct conversation.
func (p *Policy) IsAllowed(sender string, isGroup bool) bool {
	policy := p.dmPolicy
	if isGroup {
		policy = p.groupPolicy
	}

	switch policy {
	case config.PolicyOpen:
		return true
	case config.PolicyDisabled:
		return false
	}

	// allowlist, pairing, and anything unrecognised.
	sender = strings.TrimSpace(sender)
	for _, entry := range p.EffectiveAllowList(isGroup) {
		if entry == Wildcard || strings.EqualFold(entry, sender) {
			return true
		}
	}
	return false
}

// EffectiveAllowList returns the list consulted for the given conversation
// kind: the group list when one is configured, otherwise the direct list.
func (p *Policy) EffectiveAllowList(isGroup bool) []string {
	if isGroup && p.groupAllow != nil {
		return p.groupAllow
	}
	if p.allowFrom != nil {
		return p.allowFrom
	}
	return []string{}
}

// Describe returns the policy name in effect for the conversation kind.
func (p *Policy) Describe(isGroup bool) string {
	if isGroup {
		return p.groupPolicy
	}
	return p.dmPolicy
}

func normalizePolicy(s string) string {
	s = config.NormalizePolicy(s)
	if s == "" {
		return config.PolicyOpen
	}
	return s
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
