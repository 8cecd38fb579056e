package thread

import (
	"birdgate/convert"
	"birdgate/pkg/model"
)

// assemble builds a Conversation from one parsed TweetDetail page. Entry
// order is upstream-provided and preserved throughout.
func assemble(parsed *convert.Threaded, focalID, cursor string) *model.Conversation {
	conv := &model.Conversation{}

	focalIdx := -1
	for i, e := range parsed.TweetEntries {
		if e.EntryID == focalID || e.Tweet.ID == focalID {
			focalIdx = i
			break
		}
	}

	switch {
	case focalIdx >= 0:
		conv.Tweet = parsed.TweetEntries[focalIdx].Tweet
		for _, e := range parsed.TweetEntries[:focalIdx] {
			conv.Before.Tweets = append(conv.Before.Tweets, e.Tweet)
		}
		for _, e := range parsed.TweetEntries[focalIdx+1:] {
			conv.After.Tweets = append(conv.After.Tweets, e.Tweet)
		}
	case cursor != "":
		// Continuation pages may omit the focal entry; the caller already
		// has the full tweet from the first page.
		conv.Tweet = model.Tweet{ID: focalID}
	default:
		// The focal tweet was removed entirely; upstream leaves only a bare
		// tombstone entry without a tweet id.
		for _, e := range parsed.TweetEntries {
			if e.Tweet.Tombstone != "" {
				conv.Tweet = e.Tweet
				break
			}
		}
	}

	// A tombstoned focal tweet short-circuits: the reason is the whole
	// answer, the surrounding slices stay empty.
	if conv.Tweet.ID == "" && conv.Tweet.Tombstone != "" {
		return &model.Conversation{Tweet: conv.Tweet}
	}

	// Reply chains by the focal author directly under the focal tweet are
	// the author's own thread continuation and extend After; every other
	// chain is a sibling reply thread.
	focalAuthor := conv.Tweet.Author.Username
	for _, chain := range parsed.Chains {
		if len(chain.Tweets) == 0 {
			continue
		}
		first := chain.Tweets[0]
		if cursor == "" && focalAuthor != "" &&
			first.Author.Username == focalAuthor && first.ReplyToID == focalID {
			conv.After.Tweets = append(conv.After.Tweets, chain.Tweets...)
			continue
		}
		conv.Replies.Chains = append(conv.Replies.Chains, chain.Tweets)
	}

	conv.After.Cursor = parsed.BottomCursor
	conv.After.HasMore = parsed.BottomCursor != ""
	conv.Replies.Cursor = parsed.BottomCursor
	conv.Replies.Beginning = cursor == ""
	conv.Replies.Top = parsed.TopCursor == ""
	conv.Replies.Bottom = parsed.BottomCursor == ""
	return conv
}
