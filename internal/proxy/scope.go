package proxy

import "strings"

// resolveScopes resolves the scope set for a CONNECT or WebSocket
// upgrade request: the comma-separated scopesHeader if present, else
// urlPath's first segment split on `+`.
func resolveScopes(scopesHeader, urlPath string) []string {
	if scopesHeader != "" {
		return splitNonEmpty(scopesHeader, ",")
	}
	return scopesFromPath(urlPath)
}

func scopesFromPath(path string) []string {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return nil
	}
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return splitNonEmpty(trimmed, "+")
}

// scopeFromPOSTPath reads the single scope named by the trailing path
// segment after prefix.
func scopeFromPOSTPath(path, prefix string) string {
	trimmed := path
	if prefix != "/" {
		trimmed = strings.TrimPrefix(trimmed, prefix)
	}
	return strings.Trim(trimmed, "/")
}

func splitNonEmpty(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
