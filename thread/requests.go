package thread

import (
	"encoding/json"
	"net/url"

	"birdgate/session"
	"birdgate/transport"
)

// GraphQL operation paths. The hash segment is versioned by upstream and
// changes occasionally with the web client.
const (
	tweetDetailPath      = "/graphql/nBS-WpgA6ZG0CyNHD517JQ/TweetDetail"
	userTweetsPath       = "/graphql/E3opETHurmVJflFsUBVuUQ/UserTweets"
	userByScreenNamePath = "/graphql/u7wQyGi6oExe8_TRWGMq4Q/UserResultByScreenName"
)

// Feature flags the web client sends; upstream rejects requests without them.
const featureFlags = `{"rweb_lists_timeline_redesign_enabled":true,` +
	`"responsive_web_graphql_exclude_directive_enabled":true,` +
	`"verified_phone_label_enabled":false,` +
	`"creator_subscriptions_tweet_preview_api_enabled":true,` +
	`"responsive_web_graphql_timeline_navigation_enabled":true,` +
	`"responsive_web_graphql_skip_user_profile_image_extensions_enabled":false,` +
	`"tweetypie_unmention_optimization_enabled":true,` +
	`"responsive_web_edit_tweet_api_enabled":true,` +
	`"graphql_is_translatable_rweb_tweet_is_translatable_enabled":true,` +
	`"view_counts_everywhere_api_enabled":true,` +
	`"longform_notetweets_consumption_enabled":true,` +
	`"responsive_web_twitter_article_tweet_consumption_enabled":false,` +
	`"tweet_awards_web_tipping_enabled":false,` +
	`"freedom_of_speech_not_reach_fetch_enabled":true,` +
	`"standardized_nudges_misinfo":true,` +
	`"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled":true,` +
	`"longform_notetweets_rich_text_read_enabled":true,` +
	`"longform_notetweets_inline_media_enabled":true,` +
	`"responsive_web_media_download_video_enabled":false,` +
	`"responsive_web_enhance_cards_enabled":false}`

func tweetDetailRequest(id, cursor string) transport.Request {
	vars := map[string]any{
		"focalTweetId":                           id,
		"with_rux_injections":                    false,
		"includePromotedContent":                 false,
		"withCommunity":                          false,
		"withQuickPromoteEligibilityTweetFields": false,
		"withBirdwatchNotes":                     false,
		"withVoice":                              false,
		"withV2Timeline":                         true,
	}
	if cursor != "" {
		vars["cursor"] = cursor
	}
	return graphqlRequest(session.ClassTweetDetail, tweetDetailPath, vars)
}

func userTweetsRequest(userID, cursor string) transport.Request {
	vars := map[string]any{
		"userId":                 userID,
		"count":                  20,
		"includePromotedContent": false,
		"withQuickPromoteEligibilityTweetFields": false,
		"withVoice":      false,
		"withV2Timeline": true,
	}
	if cursor != "" {
		vars["cursor"] = cursor
	}
	return graphqlRequest(session.ClassUserTweets, userTweetsPath, vars)
}

func userByScreenNameRequest(username string) transport.Request {
	vars := map[string]any{
		"screen_name": username,
	}
	return graphqlRequest(session.ClassUserLookup, userByScreenNamePath, vars)
}

func graphqlRequest(class session.Class, path string, vars map[string]any) transport.Request {
	data, _ := json.Marshal(vars) // basic types only; cannot fail
	q := url.Values{}
	q.Set("variables", string(data))
	q.Set("features", featureFlags)
	return transport.Request{Class: class, Path: path, Query: q}
}
