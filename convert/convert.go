// Package convert maps raw upstream GraphQL JSON into canonical domain
// entities. The upstream contract is versioned and partially unstable, so
// every field read is an explicit present-or-default decision: an unexpected
// shape degrades the affected entity, never the whole response.
package convert

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"birdgate/pkg/model"
)

// Upstream serializes tweet timestamps in the classic Ruby date format.
const createdAtLayout = "Mon Jan 2 15:04:05 -0700 2006"

// Tweet converts one tweet_results.result node. Tombstoned and unavailable
// records yield a Tweet with an empty ID and the upstream-provided reason in
// Tombstone; callers use that, not an error, to distinguish "exists but
// unavailable" from "never existed".
func Tweet(result gjson.Result) model.Tweet {
	switch result.Get("__typename").String() {
	case "TweetWithVisibilityResults":
		result = result.Get("tweet")
	case "TweetTombstone":
		return model.Tweet{Tombstone: tombstoneReason(result.Get("tombstone"))}
	case "TweetUnavailable":
		return model.Tweet{Tombstone: unavailableReason(result.Get("reason").String())}
	}

	legacy := result.Get("legacy")
	id := result.Get("rest_id").String()
	if id == "" || !legacy.Exists() {
		return model.Tweet{Tombstone: "This post is unavailable."}
	}

	// A retweet wraps the original; surface the original and record who
	// retweeted it.
	if rt := legacy.Get("retweeted_status_result.result"); rt.Exists() {
		t := Tweet(rt)
		t.RetweetedBy = result.Get("core.user_results.result.legacy.screen_name").String()
		return t
	}

	t := model.Tweet{
		ID:             id,
		ConversationID: legacy.Get("conversation_id_str").String(),
		Text:           tweetText(legacy),
		CreatedAt:      parseCreatedAt(legacy.Get("created_at").String()),
		ReplyToID:      legacy.Get("in_reply_to_status_id_str").String(),
		ReplyToUser:    legacy.Get("in_reply_to_screen_name").String(),
		Author:         User(result.Get("core.user_results.result")),
		Media:          media(legacy.Get("extended_entities.media")),
		Stats: model.Stats{
			Replies:  int(legacy.Get("reply_count").Int()),
			Retweets: int(legacy.Get("retweet_count").Int()),
			Quotes:   int(legacy.Get("quote_count").Int()),
			Likes:    int(legacy.Get("favorite_count").Int()),
			Views:    int(result.Get("views.count").Int()),
		},
	}

	if quoted := result.Get("quoted_status_result.result"); quoted.Exists() {
		q := Tweet(quoted)
		t.Quote = &q
	}
	return t
}

// User converts one user_results.result node. Unavailable users yield the
// zero User.
func User(result gjson.Result) model.User {
	if result.Get("__typename").String() == "UserUnavailable" {
		return model.User{}
	}
	legacy := result.Get("legacy")
	return model.User{
		ID:        result.Get("rest_id").String(),
		Username:  legacy.Get("screen_name").String(),
		Name:      legacy.Get("name").String(),
		Bio:       legacy.Get("description").String(),
		Location:  legacy.Get("location").String(),
		Website:   legacy.Get("entities.url.urls.0.expanded_url").String(),
		AvatarURL: legacy.Get("profile_image_url_https").String(),
		Joined:    parseCreatedAt(legacy.Get("created_at").String()),
		Followers: int(legacy.Get("followers_count").Int()),
		Following: int(legacy.Get("friends_count").Int()),
		Tweets:    int(legacy.Get("statuses_count").Int()),
		Verified:  legacy.Get("verified").Bool() || result.Get("is_blue_verified").Bool(),
		Protected: legacy.Get("protected").Bool(),
	}
}

func tweetText(legacy gjson.Result) string {
	if full := legacy.Get("full_text"); full.Exists() {
		return full.String()
	}
	return legacy.Get("text").String()
}

func media(arr gjson.Result) []model.Media {
	if !arr.IsArray() {
		return nil
	}
	var out []model.Media
	arr.ForEach(func(_, m gjson.Result) bool {
		item := model.Media{
			URL:        m.Get("media_url_https").String(),
			PreviewURL: m.Get("media_url_https").String(),
			Alt:        m.Get("ext_alt_text").String(),
		}
		switch m.Get("type").String() {
		case "photo":
			item.Type = model.MediaPhoto
		case "video":
			item.Type = model.MediaVideo
			item.URL = bestVariant(m.Get("video_info.variants"))
			item.DurationMs = int(m.Get("video_info.duration_millis").Int())
		case "animated_gif":
			item.Type = model.MediaGIF
			item.URL = bestVariant(m.Get("video_info.variants"))
		default:
			return true // unknown media kind; skip, keep the rest
		}
		out = append(out, item)
		return true
	})
	return out
}

// bestVariant picks the highest-bitrate mp4 rendition.
func bestVariant(variants gjson.Result) string {
	var best string
	bestRate := int64(-1)
	variants.ForEach(func(_, v gjson.Result) bool {
		if v.Get("content_type").String() != "video/mp4" {
			return true
		}
		if rate := v.Get("bitrate").Int(); rate > bestRate {
			bestRate = rate
			best = v.Get("url").String()
		}
		return true
	})
	return best
}

func parseCreatedAt(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(createdAtLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func tombstoneReason(tombstone gjson.Result) string {
	text := tombstone.Get("text.text").String()
	// The trailing "Learn more" call-to-action is UI chrome, not reason text.
	text = strings.TrimSpace(strings.TrimSuffix(text, "Learn more"))
	if text == "" {
		return "This post is unavailable."
	}
	return text
}

func unavailableReason(reason string) string {
	switch reason {
	case "NsfwLoggedOut":
		return "This post may contain sensitive content."
	case "Protected":
		return "This account's posts are protected."
	case "Suspended":
		return "This post is from a suspended account."
	default:
		return "This post is unavailable."
	}
}
