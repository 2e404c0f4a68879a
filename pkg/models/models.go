package models

import "time"

// Profile is the detail record collected for one account.
type Profile struct {
	Username       string    `json:"username"`
	PK             int64     `json:"pk"`
	FullName       string    `json:"full_name"`
	Biography      string    `json:"biography"`
	Category       string    `json:"category"`
	IsPrivate      bool      `json:"is_private"`
	IsVerified     bool      `json:"is_verified"`
	IsBusiness     bool      `json:"is_business"`
	FollowerCount  int       `json:"follower_count"`
	FollowingCount int       `json:"following_count"`
	MediaCount     int       `json:"media_count"`
	ExternalURL    string    `json:"external_url,omitempty"`
	ProfilePicURL  string    `json:"profile_pic_url,omitempty"`
	CollectedAt    time.Time `json:"collected_at"`
}

// Key is the stable upsert key of a profile.
func (p Profile) Key() string { return p.Username }

// Post is one recent media item of an account.
type Post struct {
	ID           string    `json:"id"`
	UserPK       int64     `json:"user_pk"`
	Username     string    `json:"username"`
	Caption      string    `json:"caption"`
	LikeCount    int       `json:"like_count"`
	CommentCount int       `json:"comment_count"`
	TakenAt      time.Time `json:"taken_at"`
	MediaType    int       `json:"media_type"`
	ProductType  string    `json:"product_type,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	VideoURL     string    `json:"video_url,omitempty"`
}

func (p Post) Key() string { return p.ID }

// ItemState is where a work item ended up.
type ItemState string

const (
	StatePending          ItemState = "pending"
	StateInFlight         ItemState = "in_flight"
	StateSucceeded        ItemState = "succeeded"
	StateSucceededPartial ItemState = "succeeded_partial"
	StateTerminalFailure  ItemState = "terminal_failure"
	StateRetriesExhausted ItemState = "retries_exhausted"
)

// IsFinal reports whether the state ends the item's lifecycle.
func (s ItemState) IsFinal() bool {
	switch s {
	case StateSucceeded, StateSucceededPartial, StateTerminalFailure, StateRetriesExhausted:
		return true
	}
	return false
}

// CrawlResult is what a worker hands to the collector for one identifier.
// Terminal results are always checkpointed.
type CrawlResult struct {
	Identifier string
	Succeeded  bool
	Profile    *Profile
	Posts      []Post
	Terminal   bool
	State      ItemState
	Err        error
}

// ScanState tracks hashtag discovery progress across runs.
type ScanState struct {
	RunID           string    `json:"run_id"`
	TagsProcessed   []string  `json:"tags_processed"`
	LastTag         string    `json:"last_tag,omitempty"`
	LastTimestamp   time.Time `json:"last_timestamp"`
	DiscoveredCount int       `json:"discovered_count"`
	FallbackUsed    string    `json:"fallback_used,omitempty"`
}

// HasTag reports whether tag was already scanned.
func (s *ScanState) HasTag(tag string) bool {
	for _, t := range s.TagsProcessed {
		if t == tag {
			return true
		}
	}
	return false
}
