package cache

import (
	"fmt"
	"sort"
	"strings"
)

// Key identifies a cached value.
type Key struct {
	// Namespace groups related values (e.g. "records", "logo").
	Namespace string

	// ID identifies the value within the namespace.
	ID string

	// Params are extra discriminators (e.g. {"view": "full"}).
	Params map[string]string
}

// String generates a deterministic key string.
// Format: namespace:id:param1=val1:param2=val2
//
// Example:
//
//	records:all
//	logo:acme
func (k Key) String() string {
	parts := make([]string, 0, 2+len(k.Params))

	if ns := strings.Trim(k.Namespace, ":"); ns != "" {
		parts = append(parts, ns)
	}
	if id := strings.Trim(k.ID, ":"); id != "" {
		parts = append(parts, id)
	}

	if len(k.Params) > 0 {
		keys := make([]string, 0, len(k.Params))
		for key := range k.Params {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.Params[key]))
		}
	}

	return strings.Join(parts, ":")
}
