package archive

import (
	"sort"
	"strings"
	"time"
)

// Identifier builds the archive item name for a snapshot:
// "<prefix>-<subject>-<YYYYMMDD>", omitting empty parts.
func Identifier(prefix, subject string, date time.Time) string {
	parts := make([]string, 0, 3)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	if subject != "" {
		parts = append(parts, subject)
	}
	parts = append(parts, date.Format("20060102"))
	return strings.Join(parts, "-")
}

// DefaultFiles returns the files the archive creates in every item.
func DefaultFiles(identifier string) []string {
	return []string{
		identifier + "_archive.torrent",
		identifier + "_files.xml",
		identifier + "_meta.sqlite",
		identifier + "_meta.xml",
	}
}

// userFiles drops generated files and sorts the rest.
func userFiles(identifier string, names []string) []string {
	skip := make(map[string]bool, 4)
	for _, name := range DefaultFiles(identifier) {
		skip[name] = true
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if !skip[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Missing returns the entries of want that are not in have, keeping order.
func Missing(want, have []string) []string {
	present := make(map[string]bool, len(have))
	for _, name := range have {
		present[name] = true
	}
	var out []string
	for _, name := range want {
		if !present[name] {
			out = append(out, name)
		}
	}
	return out
}
