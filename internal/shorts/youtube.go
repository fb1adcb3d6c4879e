package shorts

import (
	"net/url"
	"strings"
)

// VideoIDFromURL extracts the YouTube video id from the common URL shapes:
// watch?v=ID, youtu.be/ID, /shorts/ID, /embed/ID, /live/ID. Returns "" when
// the URL does not carry a recognizable id; callers fall back to asking the
// downloader itself.
func VideoIDFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	host := strings.ToLower(u.Host)
	if q := u.Query().Get("v"); q != "" {
		return q
	}

	parts := splitPath(u.Path)
	if strings.HasSuffix(host, "youtu.be") && len(parts) > 0 {
		return parts[0]
	}
	if strings.HasSuffix(host, "youtube.com") && len(parts) >= 2 {
		switch parts[0] {
		case "shorts", "embed", "live":
			return parts[1]
		}
	}
	return ""
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
