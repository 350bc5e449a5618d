package signer

import (
	"fmt"
	"sort"
	"strings"
)

// Canonicalize renders params per spec §4.2: sort keys lexicographically,
// skip empty-string values and the "sign" key, join as k1=v1&k2=v2&....
// Values are flat strings written as-is; nested structures are not handled.
func Canonicalize(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" {
			continue
		}
		if params[k] == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, params[k]))
	}
	return strings.Join(parts, "&")
}
