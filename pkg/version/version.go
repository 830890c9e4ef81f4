// Package version holds build-time version info injected via ldflags.
//
//	go build -ldflags "-X github.com/NicolasHaas/randchat/pkg/version.tag=v0.1.0
//	  -X github.com/NicolasHaas/randchat/pkg/version.commit=abc1234"
package version

var (
	tag    = ""
	commit = "unknown"
	date   = "unknown"
)

// String returns the tag, the short commit, or "dev" for local builds.
func String() string {
	if tag != "" {
		return tag
	}
	if commit != "unknown" {
		return commit
	}
	return "dev"
}

// Full returns "tag (commit) built date" or a sensible fallback.
func Full() string {
	switch {
	case tag != "":
		return tag + " (" + commit + ") built " + date
	case commit != "unknown":
		return commit + " built " + date
	default:
		return "dev"
	}
}

// UserAgent is sent on the websocket handshake.
func UserAgent() string {
	return "randchat/" + String()
}
