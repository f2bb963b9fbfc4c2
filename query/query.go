// Package query defines list-query parameters and their canonical cache key.
//
// Two Params values that are logically equal (same page, size, search, sort,
// and filters) must serialize to the same key regardless of map iteration
// order. The key is the identity of one cache entry.
package query

import (
	"sort"
	"strconv"
	"strings"
)

// Sort orders results by a single field.
type Sort struct {
	Field string
	Desc  bool
}

// Params identifies one page of a filtered, sorted list.
// The zero value means "first page, default size, no filters".
type Params struct {
	Page    int
	PerPage int
	Search  string
	Sort    Sort
	Filters map[string]string
}

// WithPage returns a copy of p targeting the given page.
func (p Params) WithPage(page int) Params {
	p.Page = page
	return p
}

// Key returns the deterministic serialization of p.
// Filter keys are sorted, so insertion order never changes the key.
func (p Params) Key() string {
	var b strings.Builder
	b.WriteString("page=")
	b.WriteString(strconv.Itoa(p.Page))
	b.WriteString("&per_page=")
	b.WriteString(strconv.Itoa(p.PerPage))
	if p.Search != "" {
		b.WriteString("&q=")
		b.WriteString(escape(p.Search))
	}
	if p.Sort.Field != "" {
		b.WriteString("&sort=")
		b.WriteString(escape(p.Sort.Field))
		if p.Sort.Desc {
			b.WriteString(":desc")
		} else {
			b.WriteString(":asc")
		}
	}
	if len(p.Filters) > 0 {
		names := make([]string, 0, len(p.Filters))
		for k := range p.Filters {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			b.WriteString("&f.")
			b.WriteString(escape(k))
			b.WriteByte('=')
			b.WriteString(escape(p.Filters[k]))
		}
	}
	return b.String()
}

// escape keeps keys unambiguous: '&' and '=' inside values would otherwise
// collide with the separators.
func escape(s string) string {
	if !strings.ContainsAny(s, "&=%") {
		return s
	}
	r := strings.NewReplacer("%", "%25", "&", "%26", "=", "%3D")
	return r.Replace(s)
}
