// Package jidutil parses and normalizes XMPP addresses and resolves the
// allowlist matching rules used by the policy engine.
package jidutil

import (
	"strings"

	"mellium.im/xmpp/jid"
)

// roomDomainHints are substrings that mark a domain as a MUC component.
// Deployments with unusual component names can swap this predicate out;
// see IsRoomJID.
var roomDomainHints = []string{"conference", "muc"}

// Normalize parses s and returns its canonical bare-or-full form: domain
// lowercased, localpart lowercased (XMPP practice), resource left as-is.
// It reports ok=false for anything that does not parse as a JID.
//
// Normalize is idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(s string) (normalized string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	j, err := jid.Parse(s)
	if err != nil {
		return "", false
	}
	return canonical(j), true
}

func canonical(j jid.JID) string {
	local := strings.ToLower(j.Localpart())
	domain := strings.ToLower(j.Domainpart())
	resource := j.Resourcepart()

	out := domain
	if local != "" {
		out = local + "@" + domain
	}
	if resource != "" {
		out += "/" + resource
	}
	return out
}

// Bare returns the lowercased bare-JID form (no resource) of s.
func Bare(s string) (bare string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	j, err := jid.Parse(s)
	if err != nil {
		return "", false
	}
	return canonical(j.Bare()), true
}

// recognizedPrefixes are the target-string prefixes stripped by
// NormalizeAllowEntry and by outbound target resolution (spec.md §6).
var recognizedPrefixes = []string{"xmpp:", "user:", "room:"}

// NormalizeAllowEntry normalizes one allowlist entry or target string.
// "*" passes through unchanged. A single recognized prefix
// (xmpp:, user:, room:) is stripped before parsing; a prefix is never
// stripped twice, so NormalizeAllowEntry("xmpp:xmpp:a@b") fails to parse
// the residual "xmpp:a@b" as a bare JID and is rejected.
func NormalizeAllowEntry(s string) (normalized string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "*" {
		return "*", true
	}

	for _, p := range recognizedPrefixes {
		if strings.HasPrefix(s, p) {
			s = strings.TrimPrefix(s, p)
			break
		}
	}

	return Bare(s)
}

// IsRoomJID applies the "conference"/"muc" domain heuristic from
// spec.md §3. It is a plain function value so deployments with unusual
// MUC component names can substitute their own predicate at the call
// site (see RoomDetector).
func IsRoomJID(s string) bool {
	j, err := jid.Parse(s)
	if err != nil {
		return false
	}
	domain := strings.ToLower(j.Domainpart())
	for _, hint := range roomDomainHints {
		if strings.Contains(domain, hint) {
			return true
		}
	}
	return false
}

// RoomDetector is the collaborator-replaceable predicate mentioned in
// spec.md §9: callers that need a different heuristic (e.g. a fixed
// list of known MUC components) can inject their own implementation
// instead of IsRoomJID.
type RoomDetector func(jidString string) bool

// OccupantNickname returns the resourcepart of a full occupant JID
// (room@conference.domain/nickname), or "" if s has no resource.
func OccupantNickname(s string) string {
	j, err := jid.Parse(s)
	if err != nil {
		return ""
	}
	return j.Resourcepart()
}

// MatchAllowlist reports whether any of candidates (sender bare JID,
// full JID, nickname) matches any entry in allow, per spec.md §4.4's
// allowlist matching rule. Both sides are lowercased and trimmed here,
// so callers may pass raw config entries and stanza-derived candidates
// without pre-normalizing.
func MatchAllowlist(candidates, allow []string) bool {
	for _, entry := range allow {
		if strings.TrimSpace(entry) == "*" {
			return true
		}
	}
	for _, c := range candidates {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		for _, entry := range allow {
			if c == strings.ToLower(strings.TrimSpace(entry)) {
				return true
			}
		}
	}
	return false
}
