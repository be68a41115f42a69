package obs

import "strings"

// CanonicalPath collapses identifier segments so metric labels stay bounded.
// Unknown paths are returned as-is minus any query string.
func CanonicalPath(raw string) string {
	path := raw
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "accessors":
		return "/v1/accessors/:principal"
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "resources":
		return "/v1/resources/:id"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "resources":
		return "/v1/resources/:owner/:id"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "participants" && parts[3] == "registration":
		return "/v1/participants/:principal/registration"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "permissions":
		return "/v1/permissions/:accessor/:category"
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "access-records" && parts[2] != "stream":
		return "/v1/access-records/:id"
	}
	return path
}
