// Package thread orchestrates paginated upstream fetches into coherent
// conversation and timeline views, fronted by the response cache. It is the
// outbound query interface exposed to rendering and re-export collaborators.
package thread

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"birdgate/cache"
	"birdgate/convert"
	"birdgate/pkg/model"
	"birdgate/session"
	"birdgate/transport"
)

var (
	// Upstream tweet ids are snowflakes: decimal, at most 19 digits.
	tweetIDRegex  = regexp.MustCompile(`^[0-9]{1,19}$`)
	usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)
)

// A conversation whose focal tweet is at least this old is treated as
// settled history and cached on the long TTL.
const immutableAge = 24 * time.Hour

// Fetcher issues one authenticated upstream call.
type Fetcher interface {
	Fetch(ctx context.Context, s *session.Session, req transport.Request) ([]byte, *session.RateMeta, error)
}

// Pool supplies sessions for upstream calls.
type Pool interface {
	Acquire(ctx context.Context, class session.Class) (*session.Session, error)
	Release(s *session.Session, class session.Class, outcome session.Outcome, meta *session.RateMeta)
}

// TTLs holds the cache lifetimes per result volatility.
type TTLs struct {
	Conversation time.Duration // live conversation pages
	Immutable    time.Duration // conversations older than immutableAge
	Timeline     time.Duration
	User         time.Duration
	Negative     time.Duration // confirmed not-found results
}

// Config holds Service construction options.
type Config struct {
	Pool   Pool
	Fetch  Fetcher
	Store  *cache.Store // optional persistent cache tier
	Logger *slog.Logger
	TTL    TTLs
}

// Service answers GetTweet and GetTimeline queries. Read-only, idempotent
// for a given cursor, and safe for concurrent use.
type Service struct {
	pool      Pool
	fetch     Fetcher
	logger    *slog.Logger
	convs     *cache.Cache[*model.Conversation]
	timelines *cache.Cache[model.TimelineSlice]
	users     *cache.Cache[model.User]
	ttl       TTLs
}

// NewService creates the query service.
func NewService(cfg Config) *Service {
	if cfg.TTL.Conversation <= 0 {
		cfg.TTL.Conversation = time.Minute
	}
	if cfg.TTL.Immutable <= 0 {
		cfg.TTL.Immutable = time.Hour
	}
	if cfg.TTL.Timeline <= 0 {
		cfg.TTL.Timeline = 2 * time.Minute
	}
	if cfg.TTL.User <= 0 {
		cfg.TTL.User = 15 * time.Minute
	}
	return &Service{
		pool:   cfg.Pool,
		fetch:  cfg.Fetch,
		logger: cfg.Logger,
		convs: cache.New[*model.Conversation](cache.Options{
			Store:         cfg.Store,
			Logger:        cfg.Logger,
			PersistTTLMin: cfg.TTL.Immutable,
			NegativeTTL:   cfg.TTL.Negative,
		}),
		timelines: cache.New[model.TimelineSlice](cache.Options{Logger: cfg.Logger, NegativeTTL: cfg.TTL.Negative}),
		users:     cache.New[model.User](cache.Options{Logger: cfg.Logger, NegativeTTL: cfg.TTL.Negative}),
		ttl:       cfg.TTL,
	}
}

// SweepCaches runs the in-memory eviction janitors until ctx is done.
func (s *Service) SweepCaches(ctx context.Context, interval time.Duration) {
	go s.convs.Sweep(ctx, interval)
	go s.timelines.Sweep(ctx, interval)
	s.users.Sweep(ctx, interval)
}

// GetTweet returns the conversation around tweet id. A non-empty cursor
// fetches the next page of descendant replies instead of the initial
// context. Invalid ids fail before any session pool interaction.
func (s *Service) GetTweet(ctx context.Context, id, cursor string) (*model.Conversation, error) {
	if !tweetIDRegex.MatchString(id) {
		return nil, fmt.Errorf("tweet id %q: %w", id, model.ErrInvalidArgument)
	}

	key := "tweet:" + id + ":" + cursor
	return s.convs.GetOrFetch(ctx, key, s.ttl.Conversation, func(pctx context.Context) (*model.Conversation, time.Duration, error) {
		conv, err := s.fetchConversation(pctx, id, cursor)
		if err != nil {
			return nil, 0, err
		}
		// Settled history can live much longer than an active thread.
		if cursor == "" && conv.Tweet.Available() && time.Since(conv.Tweet.CreatedAt) > immutableAge {
			return conv, s.ttl.Immutable, nil
		}
		return conv, 0, nil
	})
}

// GetTimeline returns one page of a user's tweets.
func (s *Service) GetTimeline(ctx context.Context, username, cursor string) (model.TimelineSlice, error) {
	if !usernameRegex.MatchString(username) {
		return model.TimelineSlice{}, fmt.Errorf("username %q: %w", username, model.ErrInvalidArgument)
	}

	user, err := s.lookupUser(ctx, username)
	if err != nil {
		return model.TimelineSlice{}, err
	}

	key := "timeline:" + user.ID + ":" + cursor
	return s.timelines.GetOrFetch(ctx, key, s.ttl.Timeline, func(pctx context.Context) (model.TimelineSlice, time.Duration, error) {
		body, err := s.call(pctx, userTweetsRequest(user.ID, cursor))
		if err != nil {
			return model.TimelineSlice{}, 0, err
		}
		slice, err := convert.ParseUserTweets(body)
		return slice, 0, err
	})
}

func (s *Service) lookupUser(ctx context.Context, username string) (model.User, error) {
	return s.users.GetOrFetch(ctx, "user:"+username, s.ttl.User, func(pctx context.Context) (model.User, time.Duration, error) {
		body, err := s.call(pctx, userByScreenNameRequest(username))
		if err != nil {
			return model.User{}, 0, err
		}
		u, err := convert.ParseUserResult(body)
		return u, 0, err
	})
}

func (s *Service) fetchConversation(ctx context.Context, id, cursor string) (*model.Conversation, error) {
	body, err := s.call(ctx, tweetDetailRequest(id, cursor))
	if err != nil {
		return nil, err
	}

	parsed, err := convert.ParseTweetDetail(body)
	if err != nil {
		return nil, err
	}

	conv := assemble(parsed, id, cursor)
	if conv.Tweet.ID == "" && conv.Tweet.Tombstone == "" {
		return nil, &model.NotFoundError{}
	}
	return conv, nil
}

// call acquires a session, performs the request, and releases the session
// with the outcome so the next request picks a healthier one. Rate-limit
// metadata reaches the pool regardless of success or failure.
func (s *Service) call(ctx context.Context, req transport.Request) ([]byte, error) {
	sess, err := s.pool.Acquire(ctx, req.Class)
	if err != nil {
		return nil, err
	}
	body, meta, err := s.fetch.Fetch(ctx, sess, req)
	s.pool.Release(sess, req.Class, outcomeFor(err), meta)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func outcomeFor(err error) session.Outcome {
	switch {
	case model.IsSessionInvalid(err):
		return session.OutcomeAuthFailed
	case model.IsRateLimited(err):
		return session.OutcomeRateLimited
	default:
		// NotFound and transport trouble still consumed quota; the window
		// update from response metadata is all the pool needs.
		return session.OutcomeSuccess
	}
}
