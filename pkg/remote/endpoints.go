package remote

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	profilePath   = "/users/web_profile_info/"
	userFeedPath  = "/feed/user/%d/"
	tagFeedPath   = "/feed/tag/%s/"
	followersPath = "/friendships/%d/followers/"
	loginPath     = "/accounts/login/"

	// MaxPageSize bounds count on every paged endpoint.
	MaxPageSize = 50
)

// SearchMode selects the ranking of a hashtag feed.
type SearchMode string

const (
	SearchRecent SearchMode = "recent"
	SearchTop    SearchMode = "top"
)

func profileURL(base, username string) string {
	params := url.Values{}
	params.Set("username", username)
	return base + profilePath + "?" + params.Encode()
}

func userFeedURL(base string, pk int64, count int, maxID string) string {
	params := url.Values{}
	params.Set("count", strconv.Itoa(clampCount(count)))
	if maxID != "" {
		params.Set("max_id", maxID)
	}
	return base + fmt.Sprintf(userFeedPath, pk) + "?" + params.Encode()
}

func tagFeedURL(base, tag string, count int, mode SearchMode, maxID string) string {
	params := url.Values{}
	params.Set("count", strconv.Itoa(clampCount(count)))
	params.Set("tab", string(mode))
	if maxID != "" {
		params.Set("max_id", maxID)
	}
	return base + fmt.Sprintf(tagFeedPath, url.PathEscape(tag)) + "?" + params.Encode()
}

func followersURL(base string, pk int64, count int, maxID string) string {
	params := url.Values{}
	params.Set("count", strconv.Itoa(clampCount(count)))
	if maxID != "" {
		params.Set("max_id", maxID)
	}
	return base + fmt.Sprintf(followersPath, pk) + "?" + params.Encode()
}

func clampCount(n int) int {
	if n <= 0 {
		return 12
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

func parsePK(id string) int64 {
	pk, _ := strconv.ParseInt(id, 10, 64)
	return pk
}

// IsValidUsername checks the remote's username rules: up to 30 letters,
// digits, periods and underscores.
func IsValidUsername(username string) bool {
	if username == "" || len(username) > 30 {
		return false
	}
	for _, r := range username {
		if !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '.' || r == '_') {
			return false
		}
	}
	return true
}

// SanitizeUsername strips a leading @ and trailing slashes or spaces.
func SanitizeUsername(username string) string {
	username = strings.TrimSpace(username)
	username = strings.TrimPrefix(username, "@")
	return strings.TrimRight(username, "/ ")
}

// NormalizeTag strips a leading # and lowercases ASCII letters.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
}
