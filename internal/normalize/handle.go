package normalize

import "strings"

// Handle trims whitespace and a leading '@' from a social handle.
func Handle(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), "@")
}

// SameHandle reports whether two handles are equal ignoring case and a leading '@'.
// Empty handles never match.
func SameHandle(a, b string) bool {
	a, b = Handle(a), Handle(b)
	return a != "" && strings.EqualFold(a, b)
}
