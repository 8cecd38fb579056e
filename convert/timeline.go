package convert

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"birdgate/pkg/model"
)

// TweetEntry is one top-level tweet entry from a conversation page, in
// upstream order. EntryID is the tweet id carried in the entry identifier,
// which survives even when the tweet body converted to a tombstone.
type TweetEntry struct {
	EntryID string
	Tweet   model.Tweet
}

// ReplyChain is one sibling reply thread below the focal tweet, ordered top
// to bottom. HasMore records that upstream truncated the chain behind a
// show-more cursor.
type ReplyChain struct {
	Tweets  []model.Tweet
	HasMore bool
}

// Threaded is the parsed form of one TweetDetail page: the linear
// ancestor/focal entries, the reply chains below, and the page cursors.
// Cursors are opaque; they pass through unmodified.
type Threaded struct {
	TopCursor    string
	BottomCursor string
	TweetEntries []TweetEntry
	Chains       []ReplyChain
}

// ParseTweetDetail parses a TweetDetail response body.
func ParseTweetDetail(data []byte) (*Threaded, error) {
	root := gjson.ParseBytes(data)
	if reason, notFound := upstreamError(root); notFound {
		return nil, &model.NotFoundError{Reason: reason}
	}

	instructions := root.Get("data.threaded_conversation_with_injections_v2.instructions")
	if !instructions.Exists() {
		return nil, &model.ParseError{Err: fmt.Errorf("no conversation instructions in %d-byte response", len(data))}
	}

	out := &Threaded{}
	forEachEntry(instructions, func(entryID string, content gjson.Result) {
		switch {
		case strings.HasPrefix(entryID, "tweet-"):
			out.TweetEntries = append(out.TweetEntries, TweetEntry{
				EntryID: strings.TrimPrefix(entryID, "tweet-"),
				Tweet:   Tweet(content.Get("itemContent.tweet_results.result")),
			})
		case strings.HasPrefix(entryID, "tombstone-"):
			out.TweetEntries = append(out.TweetEntries, TweetEntry{
				Tweet: model.Tweet{Tombstone: tombstoneReason(content.Get("itemContent.tombstoneInfo"))},
			})
		case strings.HasPrefix(entryID, "conversationthread-"):
			if chain := parseChain(content.Get("items")); len(chain.Tweets) > 0 {
				out.Chains = append(out.Chains, chain)
			}
		case strings.HasPrefix(entryID, "cursor-top-"):
			out.TopCursor = content.Get("itemContent.value").String()
		case strings.HasPrefix(entryID, "cursor-bottom-"), strings.HasPrefix(entryID, "cursor-showmorethreads-"):
			out.BottomCursor = content.Get("itemContent.value").String()
		}
	})

	if len(out.TweetEntries) == 0 && len(out.Chains) == 0 {
		return nil, &model.NotFoundError{}
	}
	return out, nil
}

// ParseUserTweets parses a UserTweets response body into one timeline page.
func ParseUserTweets(data []byte) (model.TimelineSlice, error) {
	root := gjson.ParseBytes(data)
	if reason, notFound := upstreamError(root); notFound {
		return model.TimelineSlice{}, &model.NotFoundError{Reason: reason}
	}

	instructions := root.Get("data.user.result.timeline_v2.timeline.instructions")
	if !instructions.Exists() {
		instructions = root.Get("data.user.result.timeline.timeline.instructions")
	}
	if !instructions.Exists() {
		return model.TimelineSlice{}, &model.ParseError{Err: fmt.Errorf("no timeline instructions in %d-byte response", len(data))}
	}

	var slice model.TimelineSlice
	forEachEntry(instructions, func(entryID string, content gjson.Result) {
		switch {
		case strings.HasPrefix(entryID, "tweet-"):
			t := Tweet(content.Get("itemContent.tweet_results.result"))
			if t.ID != "" || t.Tombstone != "" {
				slice.Tweets = append(slice.Tweets, t)
			}
		case strings.HasPrefix(entryID, "profile-conversation-"):
			// Self-thread module on a profile timeline; flatten in order.
			content.Get("items").ForEach(func(_, item gjson.Result) bool {
				t := Tweet(item.Get("item.itemContent.tweet_results.result"))
				if t.ID != "" || t.Tombstone != "" {
					slice.Tweets = append(slice.Tweets, t)
				}
				return true
			})
		case strings.HasPrefix(entryID, "cursor-bottom-"):
			slice.Cursor = content.Get("itemContent.value").String()
		}
	})

	slice.HasMore = slice.Cursor != "" && len(slice.Tweets) > 0
	return slice, nil
}

// ParseUserResult parses a UserByScreenName response body.
func ParseUserResult(data []byte) (model.User, error) {
	root := gjson.ParseBytes(data)
	if reason, notFound := upstreamError(root); notFound {
		return model.User{}, &model.NotFoundError{Reason: reason}
	}
	result := root.Get("data.user.result")
	if !result.Exists() {
		return model.User{}, &model.NotFoundError{Reason: "user not found"}
	}
	u := User(result)
	if u.ID == "" {
		return model.User{}, &model.NotFoundError{Reason: "user not found"}
	}
	return u, nil
}

// forEachEntry walks TimelineAddEntries instructions, invoking fn per entry.
func forEachEntry(instructions gjson.Result, fn func(entryID string, content gjson.Result)) {
	instructions.ForEach(func(_, inst gjson.Result) bool {
		if inst.Get("type").String() != "TimelineAddEntries" {
			return true
		}
		inst.Get("entries").ForEach(func(_, entry gjson.Result) bool {
			fn(entry.Get("entryId").String(), entry.Get("content"))
			return true
		})
		return true
	})
}

func parseChain(items gjson.Result) ReplyChain {
	var chain ReplyChain
	items.ForEach(func(_, item gjson.Result) bool {
		ic := item.Get("item.itemContent")
		if strings.Contains(ic.Get("cursorType").String(), "ShowMore") {
			chain.HasMore = true
			return true
		}
		result := ic.Get("tweet_results.result")
		if !result.Exists() {
			return true
		}
		if t := Tweet(result); t.ID != "" || t.Tombstone != "" {
			chain.Tweets = append(chain.Tweets, t)
		}
		return true
	})
	return chain
}

// upstreamError inspects the GraphQL errors array. Upstream reports missing
// tweets both as typed tombstones and, for some callers, as a bare error.
func upstreamError(root gjson.Result) (reason string, notFound bool) {
	errs := root.Get("errors")
	if !errs.IsArray() || len(errs.Array()) == 0 {
		return "", false
	}
	msg := errs.Get("0.message").String()
	if strings.Contains(strings.ToLower(msg), "not found") || !root.Get("data").Exists() {
		return msg, true
	}
	return "", false
}
