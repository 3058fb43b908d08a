package model

import "strings"

// Filter is the operator's current inbox filter state: a role category,
// a status value or comma-set, and a free-text query. Held by the inbox
// controller, read by the filter engine, reset only by explicit action.
type Filter struct {
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"`
	Query  string `json:"query,omitempty"`
}

// MatchesRole reports whether the filter's role passes the given peer
// role. Empty and "all" pass everything; otherwise a case-insensitive
// exact match.
func (f Filter) MatchesRole(peerRole string) bool {
	if f.Role == "" || strings.EqualFold(f.Role, "all") {
		return true
	}
	return strings.EqualFold(f.Role, peerRole)
}

// MatchesQuery reports whether the free-text query hits the peer name,
// peer role, subject, or last message (case-insensitive substring,
// first hit wins).
func (f Filter) MatchesQuery(c Conversation) bool {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	for _, field := range []string{c.Peer.Name, c.Peer.Role, c.Subject, c.LastMessage} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
