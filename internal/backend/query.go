package backend

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// BuildQuery encodes params, skipping nil and blank string entries so optional
// filters never reach the backend as empty parameters. Numbers are always kept.
func BuildQuery(params map[string]any) url.Values {
	values := url.Values{}
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch v := params[key].(type) {
		case nil:
		case string:
			if s := strings.TrimSpace(v); s != "" {
				values.Set(key, s)
			}
		case int:
			values.Set(key, strconv.Itoa(v))
		case int64:
			values.Set(key, strconv.FormatInt(v, 10))
		case bool:
			values.Set(key, strconv.FormatBool(v))
		case []string:
			for _, item := range v {
				if s := strings.TrimSpace(item); s != "" {
					values.Add(key, s)
				}
			}
		}
	}
	return values
}

// BuildURL appends the encoded params to endpoint.
func BuildURL(endpoint string, params map[string]any) string {
	q := BuildQuery(params)
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}
