package archive

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"unicode"
)

// SizeHint is sent as x-archive-size-hint so the archive places large items
// on a server with room for them (100 GiB).
const SizeHint = "107374182400"

// RequiredFields must be present in every item's metadata.
var RequiredFields = []string{
	"collection",
	"creator",
	"contributor",
	"mediatype",
	"rights",
	"licenseurl",
	"date",
	"subject",
	"title",
	"description",
}

// Metadata is the flat key/value metadata of an archive item.
type Metadata map[string]string

// Validate reports the required fields that are missing or empty.
func (m Metadata) Validate() error {
	var missing []string
	for _, field := range RequiredFields {
		if strings.TrimSpace(m[field]) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidMetadata, strings.Join(missing, ", "))
	}
	return nil
}

// WithScanner returns a copy of m whose scanner field is set to scanner
// unless the caller already provided one.
func (m Metadata) WithScanner(scanner string) Metadata {
	out := make(Metadata, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	if out["scanner"] == "" && scanner != "" {
		out["scanner"] = scanner
	}
	return out
}

// Get returns the value for key, or "".
func (m Metadata) Get(key string) string {
	return m[key]
}

// Keys returns the metadata keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// headers renders metadata as x-archive-meta-* request headers.
func (m Metadata) headers() http.Header {
	h := make(http.Header, len(m))
	for _, key := range m.Keys() {
		value := m[key]
		if value == "" {
			continue
		}
		// Header names cannot carry underscores; the archive maps "--" back.
		name := "x-archive-meta-" + strings.ReplaceAll(strings.ToLower(key), "_", "--")
		h.Set(name, headerValue(value))
	}
	return h
}

// headerValue wraps non-ASCII values in the archive's uri() escape.
func headerValue(v string) string {
	for _, r := range v {
		if r > unicode.MaxASCII || r == '\n' || r == '\r' {
			return "uri(" + url.PathEscape(v) + ")"
		}
	}
	return v
}
