package v1

import (
	"fmt"
	"net/url"
	"strings"
)

// InboxURL derives the inbox websocket URL from the REST API base URL. The
// scheme maps http->ws and https->wss, and everything from "/api" on is
// replaced by InboxPath.
func InboxURL(apiBase string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(apiBase))
	if err != nil {
		return "", fmt.Errorf("api url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("api url must be http(s): %q", apiBase)
	}
	prefix := u.Path
	if i := strings.Index(prefix, "/api"); i >= 0 {
		prefix = prefix[:i]
	}
	u.Path = strings.TrimRight(prefix, "/") + InboxPath
	u.RawQuery, u.Fragment = "", ""
	return u.String(), nil
}
