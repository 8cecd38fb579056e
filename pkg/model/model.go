// Package model contains the canonical domain entities produced by the
// fetch pipeline and consumed by rendering and re-export layers.
package model

import "time"

// MediaType identifies the kind of media attached to a tweet.
type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaVideo MediaType = "video"
	MediaGIF   MediaType = "gif"
)

// Media is a single photo, video, or animated GIF attached to a tweet.
type Media struct {
	Type       MediaType `json:"type"`
	URL        string    `json:"url"`
	PreviewURL string    `json:"previewUrl,omitempty"`
	Alt        string    `json:"alt,omitempty"`
	DurationMs int       `json:"durationMs,omitempty"`
}

// User represents an upstream account profile.
type User struct {
	Joined    time.Time `json:"joined"`
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Bio       string    `json:"bio,omitempty"`
	Location  string    `json:"location,omitempty"`
	Website   string    `json:"website,omitempty"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	Followers int       `json:"followers"`
	Following int       `json:"following"`
	Tweets    int       `json:"tweets"`
	Verified  bool      `json:"verified"`
	Protected bool      `json:"protected"`
}

// Stats holds a tweet's public engagement counts.
type Stats struct {
	Replies  int `json:"replies"`
	Retweets int `json:"retweets"`
	Quotes   int `json:"quotes"`
	Likes    int `json:"likes"`
	Views    int `json:"views"`
}

// Tweet is the canonical converted form of one upstream tweet record.
//
// A tweet that upstream replaced with a tombstone (deleted, suspended,
// age-restricted) has an empty ID and the human-readable reason in
// Tombstone; no other field is guaranteed in that case.
type Tweet struct {
	CreatedAt      time.Time `json:"createdAt"`
	Quote          *Tweet    `json:"quote,omitempty"`
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId,omitempty"`
	Text           string    `json:"text"`
	ReplyToID      string    `json:"replyToId,omitempty"`
	ReplyToUser    string    `json:"replyToUser,omitempty"`
	RetweetedBy    string    `json:"retweetedBy,omitempty"`
	Tombstone      string    `json:"tombstone,omitempty"`
	Author         User      `json:"author"`
	Media          []Media   `json:"media,omitempty"`
	Stats          Stats     `json:"stats"`
}

// Available reports whether the tweet carries real content rather than a
// tombstone placeholder.
func (t *Tweet) Available() bool {
	return t.ID != "" && t.Tombstone == ""
}

// TimelineSlice is one page of tweets in upstream-provided order, plus the
// continuation cursor for the next page.
type TimelineSlice struct {
	Tweets  []Tweet `json:"tweets"`
	Cursor  string  `json:"cursor,omitempty"`
	HasMore bool    `json:"hasMore"`
}

// ReplySet holds the sibling reply chains below a focal tweet. Each chain is
// ordered top to bottom. Beginning, Top, and Bottom are independent booleans
// recording whether the fetched window reached the start or end of the reply
// tree in each direction.
type ReplySet struct {
	Chains    [][]Tweet `json:"tweets"`
	Cursor    string    `json:"cursor,omitempty"`
	Beginning bool      `json:"beginning"`
	Top       bool      `json:"top"`
	Bottom    bool      `json:"bottom"`
}

// Conversation is the assembled thread view around one focal tweet.
//
// Tweet is never a placeholder standing in for "not found": callers detect
// failure through a nil Conversation or an error, and detect "exists but
// unavailable" through Tweet.Tombstone.
type Conversation struct {
	Tweet   Tweet         `json:"tweet"`
	Before  TimelineSlice `json:"before"`
	After   TimelineSlice `json:"after"`
	Replies ReplySet      `json:"replies"`
}
