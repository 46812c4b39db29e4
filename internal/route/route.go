// Package route classifies inbound requests into a bounded set of Discord
// API route families. Classification is a pure lookup against a static,
// ordered template table: it is total (unmatched paths yield Unknown) and
// never depends on request-specific identifiers, so the resulting labels are
// safe as metric dimensions.
package route

import "strings"

// UnknownLabel is the sentinel label for paths outside the known route set.
const UnknownLabel = "Unknown"

// Identity is the canonical identity of a request's route family.
// Label is a stable, low-cardinality tag; Path is the upstream-relative
// path with the API version prefix stripped.
type Identity struct {
	Label string
	Path  string
}

// segKind describes how one path segment is matched.
type segKind int

const (
	segLiteral segKind = iota // byte-exact match
	segID                     // non-empty decimal digits (snowflake)
	segStr                    // non-empty opaque string (emoji, code, "@me")
)

type segment struct {
	kind    segKind
	literal string
}

func lit(s string) segment { return segment{kind: segLiteral, literal: s} }

var (
	id  = segment{kind: segID}
	str = segment{kind: segStr}
)

// Template recognizes one route family: an optional method set (empty means
// any method), an exact sequence of segment matchers, and the family label.
type Template struct {
	Methods  []string
	Segments []segment
	Label    string
}

// table is the ordered template table. Order is precedence: within a family,
// templates with longer literal runs come before templates that would also
// match the same segment count. The table is read-only after init.
var table = []Template{
	// Channels, most specific shapes first.
	{Segments: []segment{lit("channels"), id, lit("messages"), lit("bulk-delete")}, Label: "Bulk delete message"},
	{Segments: []segment{lit("channels"), id, lit("messages"), id, lit("reactions"), str, str}, Label: "Message reaction for user"},
	{Segments: []segment{lit("channels"), id, lit("messages"), id, lit("reactions")}, Label: "Message reaction"},
	{Segments: []segment{lit("channels"), id, lit("messages"), id}, Label: "Channel message"},
	{Segments: []segment{lit("channels"), id, lit("messages")}, Label: "Channel message"},
	{Segments: []segment{lit("channels"), id, lit("permissions"), str}, Label: "Channel permission override"},
	{Segments: []segment{lit("channels"), id, lit("pins"), id}, Label: "Specific channel pin"},
	{Segments: []segment{lit("channels"), id, lit("pins")}, Label: "Channel pins"},
	{Segments: []segment{lit("channels"), id, lit("invites")}, Label: "Channel invite"},
	{Segments: []segment{lit("channels"), id, lit("typing")}, Label: "Typing indicator"},
	{Segments: []segment{lit("channels"), id, lit("webhooks")}, Label: "Webhook"},
	{Segments: []segment{lit("channels"), id}, Label: "Channel"},

	// Guilds.
	{Segments: []segment{lit("guilds"), id, lit("members"), lit("@me"), lit("nick")}, Label: "Modify own nickname"},
	{Segments: []segment{lit("guilds"), id, lit("members"), str, lit("roles"), id}, Label: "Guild member role"},
	{Segments: []segment{lit("guilds"), id, lit("members"), str}, Label: "Specific guild member"},
	{Segments: []segment{lit("guilds"), id, lit("members")}, Label: "Guild members"},
	{Segments: []segment{lit("guilds"), id, lit("integrations"), id, lit("sync")}, Label: "Sync guild integration"},
	{Segments: []segment{lit("guilds"), id, lit("integrations"), id}, Label: "Specific guild integration"},
	{Segments: []segment{lit("guilds"), id, lit("integrations")}, Label: "Guild integrations"},
	{Segments: []segment{lit("guilds"), id, lit("bans"), str}, Label: "Guild ban for user"},
	{Segments: []segment{lit("guilds"), id, lit("bans")}, Label: "Guild bans"},
	{Segments: []segment{lit("guilds"), id, lit("emojis"), id}, Label: "Specific guild emoji"},
	{Segments: []segment{lit("guilds"), id, lit("emojis")}, Label: "Guild emoji"},
	{Segments: []segment{lit("guilds"), id, lit("roles"), id}, Label: "Specific guild role"},
	{Segments: []segment{lit("guilds"), id, lit("roles")}, Label: "Guild roles"},
	{Segments: []segment{lit("guilds"), id, lit("audit-logs")}, Label: "Guild audit logs"},
	{Segments: []segment{lit("guilds"), id, lit("channels")}, Label: "Guild channel"},
	{Segments: []segment{lit("guilds"), id, lit("invites")}, Label: "Guild invites"},
	{Segments: []segment{lit("guilds"), id, lit("preview")}, Label: "Guild preview"},
	{Segments: []segment{lit("guilds"), id, lit("prune")}, Label: "Guild prune"},
	{Segments: []segment{lit("guilds"), id, lit("regions")}, Label: "Guild region"},
	{Segments: []segment{lit("guilds"), id, lit("vanity-url")}, Label: "Guild vanity invite"},
	{Segments: []segment{lit("guilds"), id, lit("webhooks")}, Label: "Guild webhooks"},
	{Segments: []segment{lit("guilds"), id, lit("widget")}, Label: "Guild widget"},
	{Segments: []segment{lit("guilds"), id}, Label: "Guild"},
	{Segments: []segment{lit("guilds")}, Label: "Guilds"},

	// Users. The user segment is opaque because "@me" is valid there.
	{Segments: []segment{lit("users"), str, lit("guilds"), id}, Label: "Guild from user"},
	{Segments: []segment{lit("users"), str, lit("guilds")}, Label: "User in guild"},
	{Segments: []segment{lit("users"), str, lit("channels")}, Label: "User channels"},
	{Segments: []segment{lit("users"), str, lit("connections")}, Label: "User connections"},
	{Segments: []segment{lit("users"), str}, Label: "User info"},

	// Everything else.
	{Segments: []segment{lit("gateway"), lit("bot")}, Label: "Gateway bot info"},
	{Segments: []segment{lit("gateway")}, Label: "Gateway"},
	{Segments: []segment{lit("invites"), str}, Label: "Invite info"},
	{Segments: []segment{lit("voice"), lit("regions")}, Label: "Voice region list"},
	{Segments: []segment{lit("webhooks"), id}, Label: "Webhook"},
	{Segments: []segment{lit("oauth2"), lit("applications"), lit("@me")}, Label: "Current application info"},
}

// Classifier maps (method, path) pairs to route identities.
type Classifier struct {
	prefix string
}

// NewClassifier creates a Classifier that strips the given version prefix
// (e.g. "/api/v6") before matching. An empty prefix disables stripping.
func NewClassifier(versionPrefix string) *Classifier {
	return &Classifier{prefix: strings.TrimSuffix(versionPrefix, "/")}
}

// Classify returns the Identity for a method and escaped URI path. Matching
// runs on the percent-encoded form, so an encoded slash stays inside its
// segment. Classify is total: a path outside the route set yields the
// Unknown identity with the normalized path preserved for forwarding.
func (c *Classifier) Classify(method, path string) Identity {
	normalized := c.Normalize(path)

	segs := split(normalized)
	for i := range table {
		if table[i].matches(method, segs) {
			return Identity{Label: table[i].Label, Path: normalized}
		}
	}
	return Identity{Label: UnknownLabel, Path: normalized}
}

// Normalize strips the version prefix from path when present.
func (c *Classifier) Normalize(path string) string {
	if c.prefix == "" {
		return path
	}
	if path == c.prefix {
		return "/"
	}
	if rest, ok := strings.CutPrefix(path, c.prefix+"/"); ok {
		return "/" + rest
	}
	return path
}

// Labels returns every label in the template table plus the Unknown
// sentinel. The result bounds the cardinality of the route metric dimension.
func Labels() []string {
	seen := make(map[string]bool, len(table))
	labels := make([]string, 0, len(table)+1)
	for i := range table {
		if !seen[table[i].Label] {
			seen[table[i].Label] = true
			labels = append(labels, table[i].Label)
		}
	}
	return append(labels, UnknownLabel)
}

func (t *Template) matches(method string, segs []string) bool {
	if len(t.Methods) > 0 {
		ok := false
		for _, m := range t.Methods {
			if m == method {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if len(segs) != len(t.Segments) {
		return false
	}
	for i, m := range t.Segments {
		if !m.matches(segs[i]) {
			return false
		}
	}
	return true
}

func (s segment) matches(v string) bool {
	switch s.kind {
	case segLiteral:
		return v == s.literal
	case segID:
		return isDigits(v)
	default:
		return v != ""
	}
}

func isDigits(v string) bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}

// split breaks a path into segments, tolerating a trailing slash.
func split(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
