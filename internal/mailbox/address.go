package mailbox

import "strings"

// Address returns the bracketed part of a "Name <addr>" sender, or s
// unchanged when there are no brackets.
func Address(s string) string {
	open := strings.LastIndex(s, "<")
	if open < 0 {
		return s
	}
	end := strings.Index(s[open:], ">")
	if end < 0 {
		return s
	}
	return strings.TrimSpace(s[open+1 : open+end])
}

// Domain returns the lower-cased part of addr after the last '@', or "" if
// there is none.
func Domain(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimRight(addr[at+1:], ">"))
}
