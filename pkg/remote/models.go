package remote

import (
	"time"

	"igcrawler/pkg/models"
)

// ProfileResponse is the envelope of the web profile endpoint.
type ProfileResponse struct {
	RequiresToLogin bool   `json:"requires_to_login"`
	Message         string `json:"message"`
	Status          string `json:"status"`
	Data            struct {
		User *User `json:"user"`
	} `json:"data"`
}

// User is the profile node of ProfileResponse.
type User struct {
	ID                 string `json:"id"`
	Username           string `json:"username"`
	FullName           string `json:"full_name"`
	Biography          string `json:"biography"`
	CategoryName       string `json:"category_name"`
	ExternalURL        string `json:"external_url"`
	ProfilePicURL      string `json:"profile_pic_url_hd"`
	IsPrivate          bool   `json:"is_private"`
	IsVerified         bool   `json:"is_verified"`
	IsBusinessAccount  bool   `json:"is_business_account"`
	EdgeFollowedBy     Count  `json:"edge_followed_by"`
	EdgeFollow         Count  `json:"edge_follow"`
	EdgeOwnerToTimelineMedia struct {
		Count int `json:"count"`
	} `json:"edge_owner_to_timeline_media"`
}

type Count struct {
	Count int `json:"count"`
}

// FeedResponse is a page of media items, from a user feed or a tag feed.
type FeedResponse struct {
	Items         []Item `json:"items"`
	MoreAvailable bool   `json:"more_available"`
	NextMaxID     string `json:"next_max_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

type Item struct {
	ID           string `json:"id"`
	PK           int64  `json:"pk"`
	Code         string `json:"code"`
	TakenAt      int64  `json:"taken_at"`
	MediaType    int    `json:"media_type"`
	ProductType  string `json:"product_type"`
	LikeCount    int    `json:"like_count"`
	CommentCount int    `json:"comment_count"`
	Caption      *struct {
		Text string `json:"text"`
	} `json:"caption"`
	ImageVersions2 struct {
		Candidates []Media `json:"candidates"`
	} `json:"image_versions2"`
	VideoVersions []Media  `json:"video_versions"`
	User          UserStub `json:"user"`
}

type Media struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type UserStub struct {
	PK       int64  `json:"pk"`
	Username string `json:"username"`
}

// FollowersResponse is a page of a follower list.
type FollowersResponse struct {
	Users     []UserStub `json:"users"`
	NextMaxID string     `json:"next_max_id"`
	Status    string     `json:"status"`
}

// LoginResponse is the body of the login endpoint.
type LoginResponse struct {
	Authenticated bool   `json:"authenticated"`
	User          bool   `json:"user"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

// ToProfile converts the API node to the shared record.
func (u *User) ToProfile(now time.Time) *models.Profile {
	pk := parsePK(u.ID)
	return &models.Profile{
		Username:       u.Username,
		PK:             pk,
		FullName:       u.FullName,
		Biography:      u.Biography,
		Category:       ClassifyCategory(u.Biography),
		IsPrivate:      u.IsPrivate,
		IsVerified:     u.IsVerified,
		IsBusiness:     u.IsBusinessAccount,
		FollowerCount:  u.EdgeFollowedBy.Count,
		FollowingCount: u.EdgeFollow.Count,
		MediaCount:     u.EdgeOwnerToTimelineMedia.Count,
		ExternalURL:    u.ExternalURL,
		ProfilePicURL:  u.ProfilePicURL,
		CollectedAt:    now,
	}
}

// ToPost converts a feed item of owner to the shared record.
func (it *Item) ToPost(owner *models.Profile) models.Post {
	post := models.Post{
		ID:           it.ID,
		UserPK:       owner.PK,
		Username:     owner.Username,
		LikeCount:    it.LikeCount,
		CommentCount: it.CommentCount,
		MediaType:    it.MediaType,
		ProductType:  it.ProductType,
	}
	if it.Caption != nil {
		post.Caption = it.Caption.Text
	}
	if it.TakenAt > 0 {
		post.TakenAt = time.Unix(it.TakenAt, 0).UTC()
	}
	if len(it.ImageVersions2.Candidates) > 0 {
		post.ImageURL = it.ImageVersions2.Candidates[0].URL
	}
	if len(it.VideoVersions) > 0 {
		post.VideoURL = it.VideoVersions[0].URL
	}
	return post
}

// PrivateStub is the record kept for an account whose details are hidden.
func PrivateStub(username string, now time.Time) *models.Profile {
	return &models.Profile{
		Username:    username,
		IsPrivate:   true,
		CollectedAt: now,
	}
}
