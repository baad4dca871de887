package anchor

import (
	"fmt"
	"net/url"
	"strconv"
)

// CallOption adjusts a single namespace call.
type CallOption func(*RequestSpec)

// WithWorkspace scopes one call to workspace id, overriding the client
// default.
func WithWorkspace(id string) CallOption {
	return func(spec *RequestSpec) { spec.WorkspaceID = id }
}

func (c *Client) call(spec RequestSpec, opts []CallOption) RequestSpec {
	for _, opt := range opts {
		if opt != nil {
			opt(&spec)
		}
	}
	return spec
}

// pathf formats an API path, escaping every argument as a path segment.
func pathf(format string, args ...any) string {
	escaped := make([]any, len(args))
	for i, a := range args {
		escaped[i] = url.PathEscape(fmt.Sprint(a))
	}
	return fmt.Sprintf(format, escaped...)
}

// queryBuilder accumulates optional query parameters, skipping zero values.
type queryBuilder url.Values

func (q queryBuilder) str(key, value string) queryBuilder {
	if value != "" {
		url.Values(q).Set(key, value)
	}
	return q
}

func (q queryBuilder) num(key string, value int) queryBuilder {
	if value > 0 {
		url.Values(q).Set(key, strconv.Itoa(value))
	}
	return q
}

func (q queryBuilder) values() url.Values {
	if len(q) == 0 {
		return nil
	}
	return url.Values(q)
}
