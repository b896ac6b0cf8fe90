package cache

import (
	"context"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cirkle/backend/pkg/logger"
)

// Key namespaces. Every cached entry in the system lives under one of these
// prefixes; the invalidator deletes by prefix pattern because it cannot
// enumerate every entry a mutation may have touched. Over-deletion is the
// accepted price of correctness.
const (
	KeyFeed        = "feed"         // feed:<user>:...
	KeyFollowing   = "following"    // following:<user>:h<hour>
	KeyFollowers   = "followers"    // followers:<user>:p<page>
	KeyFollowerIDs = "follower_ids" // follower_ids:<user> (fan-out helper)
	KeyProfile     = "profile"      // profile:<user>:...
	KeyEngBatch    = "eng_batch"    // eng_batch:<user>:<ids-hash>
	KeyEngVelocity = "eng_velocity" // eng_velocity:<ids-hash>
	KeyUserFlags   = "user_flags"   // user_flags:<user>:<ids-hash>
	KeyMediaBatch  = "media_batch"  // media_batch:<ids-hash>
	KeyAffinity    = "affinity"     // affinity:<user>:h<hour>
	KeyTweet       = "tweet"        // tweet:<id>:req:<user>
	KeyComment     = "comment"      // comment:<id>:...
	KeyTweetCmts   = "tweet_comments"
	KeyUserMeta    = "user_meta"  // user_meta:h<hour> (global candidate pool)
	KeyRecommend   = "recommend"  // recommend:... (global discovery pool)
	KeyToken       = "token"      // token:<user>:...
	KeyUserSearch  = "search_user"
	KeyAdmin       = "admin"
)

const (
	// followerFanoutBatch bounds concurrent per-follower invalidations.
	followerFanoutBatch = 20
	// followerFanoutLimit caps how many followers one mutation fans out to.
	followerFanoutLimit = 10000
)

// FollowerSource resolves the follower-id list of an author for feed
// fan-out. Implemented by the follow repository.
type FollowerSource interface {
	FollowerIDs(ctx context.Context, userID string, limit int) ([]string, error)
}

// Invalidator owns the per-mutation cache fan-outs. Every method is
// best-effort: failures are logged, never surfaced, and calling against ids
// that no longer exist is always safe. Callers must only invoke these after
// the triggering write has committed.
type Invalidator struct {
	store     *Store
	followers FollowerSource
}

func NewInvalidator(store *Store, followers FollowerSource) *Invalidator {
	return &Invalidator{store: store, followers: followers}
}

// deleteAll fans out independent pattern deletions concurrently.
func (iv *Invalidator) deleteAll(ctx context.Context, patterns []string) int {
	g, ctx := errgroup.WithContext(ctx)
	results := make([]int, len(patterns))
	for i, p := range patterns {
		i, p := i, p
		g.Go(func() error {
			results[i] = iv.store.DeletePattern(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
	total := 0
	for _, n := range results {
		total += n
	}
	return total
}

// TweetEngagement drops every engagement-derived entry for a tweet. The
// batch and velocity caches are keyed by id-set hashes, so they can only be
// invalidated wholesale.
func (iv *Invalidator) TweetEngagement(ctx context.Context, tweetID int64) {
	id := strconv.FormatInt(tweetID, 10)
	n := iv.deleteAll(ctx, []string{
		KeyEngBatch + ":*",
		KeyEngVelocity + ":*",
		KeyTweet + ":" + id + ":*",
		KeyTweetCmts + ":" + id + ":*",
	})
	logger.Debug("invalidated engagement cache", zap.Int64("tweet_id", tweetID), zap.Int("deleted", n))
}

// UserInteraction drops the per-user like/bookmark/flag caches.
func (iv *Invalidator) UserInteraction(ctx context.Context, userID string) {
	iv.deleteAll(ctx, []string{
		KeyUserFlags + ":" + userID + ":*",
		KeyEngBatch + ":" + userID + ":*",
		KeyAffinity + ":" + userID + ":*",
	})
}

// UserFeed drops a user's feed pages and the signal caches feeding them.
func (iv *Invalidator) UserFeed(ctx context.Context, userID string) {
	iv.deleteAll(ctx, []string{
		KeyFeed + ":" + userID + ":*",
		KeyFollowing + ":" + userID + ":*",
		KeyUserFlags + ":" + userID + ":*",
		KeyEngBatch + ":" + userID + ":*",
	})
}

// Comment drops a comment's caches plus the parent tweet's comment list
// and, for replies, the parent comment.
func (iv *Invalidator) Comment(ctx context.Context, commentID, tweetID int64, parentCommentID *int64) {
	patterns := []string{
		KeyComment + ":" + strconv.FormatInt(commentID, 10) + ":*",
		KeyTweetCmts + ":" + strconv.FormatInt(tweetID, 10) + ":*",
	}
	if parentCommentID != nil {
		patterns = append(patterns, KeyComment+":"+strconv.FormatInt(*parentCommentID, 10)+":*")
	}
	iv.deleteAll(ctx, patterns)
}

// Profile drops the profile surface (and search results which embed it).
func (iv *Invalidator) Profile(ctx context.Context, userID string) {
	iv.deleteAll(ctx, []string{
		KeyProfile + ":" + userID + ":*",
		KeyUserSearch + ":*",
	})
}

// Follow drops both parties' profile, social-graph and feed caches plus the
// global recommendation pool; a follow edge changes "following" ranking for
// the pair from here on.
func (iv *Invalidator) Follow(ctx context.Context, followerID, followeeID string) {
	patterns := make([]string, 0, 10)
	for _, id := range []string{followerID, followeeID} {
		patterns = append(patterns,
			KeyProfile+":"+id+":*",
			KeyFollowers+":"+id+":*",
			KeyFollowing+":"+id+":*",
			KeyFeed+":"+id+":*",
		)
	}
	patterns = append(patterns, KeyFollowerIDs+":"+followeeID)
	iv.deleteAll(ctx, patterns)
	iv.GlobalRecommendations(ctx)
}

// FollowerRemoval is Follow plus the removed side's affinity and flag
// caches; removal silently rewrites what the removed follower may see.
func (iv *Invalidator) FollowerRemoval(ctx context.Context, userID, removedFollowerID string) {
	iv.Follow(ctx, removedFollowerID, userID)
	iv.deleteAll(ctx, []string{
		KeyUserFlags + ":" + removedFollowerID + ":*",
		KeyAffinity + ":" + removedFollowerID + ":*",
	})
}

// Share drops the tweet's engagement surface, the sender's activity caches
// and every recipient's feed/interaction caches.
func (iv *Invalidator) Share(ctx context.Context, tweetID int64, senderID string, recipientIDs []string) {
	iv.TweetEngagement(ctx, tweetID)
	patterns := []string{
		KeyFeed + ":" + senderID + ":*",
		KeyUserFlags + ":" + senderID + ":*",
	}
	for _, rid := range recipientIDs {
		patterns = append(patterns,
			KeyFeed+":"+rid+":*",
			KeyUserFlags+":"+rid+":*",
		)
	}
	patterns = append(patterns, KeyRecommend+":*")
	iv.deleteAll(ctx, patterns)
}

// GlobalRecommendations drops the discovery pools shared across users.
func (iv *Invalidator) GlobalRecommendations(ctx context.Context) {
	iv.deleteAll(ctx, []string{
		KeyRecommend + ":*",
		KeyUserMeta + ":*",
	})
}

// AdminListings drops the admin console caches.
func (iv *Invalidator) AdminListings(ctx context.Context) {
	iv.deleteAll(ctx, []string{KeyAdmin + ":*"})
}

// FullUser drops a user's entire cache surface. Used by block/unblock and
// admin deletion; safe when the user row is already gone.
func (iv *Invalidator) FullUser(ctx context.Context, userID string) {
	iv.deleteAll(ctx, []string{
		KeyProfile + ":" + userID + ":*",
		KeyToken + ":" + userID + ":*",
		KeyFeed + ":" + userID + ":*",
		KeyFollowing + ":" + userID + ":*",
		KeyFollowers + ":" + userID + ":*",
		KeyFollowerIDs + ":" + userID,
		KeyUserFlags + ":" + userID + ":*",
		KeyEngBatch + ":" + userID + ":*",
		KeyAffinity + ":" + userID + ":*",
		KeyUserSearch + ":*",
	})
	iv.AdminListings(ctx)
	iv.GlobalRecommendations(ctx)
}

// FeedForFollowers invalidates the feed cache of every follower of the
// author. The follower-id list itself is read through a short-TTL cache so
// bursts of engagement on one author do not hammer the follower table. The
// per-follower work runs in bounded concurrent batches.
func (iv *Invalidator) FeedForFollowers(ctx context.Context, authorID string) {
	listKey := KeyFollowerIDs + ":" + authorID
	var followerIDs []string
	if !iv.store.Get(ctx, listKey, &followerIDs) {
		ids, err := iv.followers.FollowerIDs(ctx, authorID, followerFanoutLimit)
		if err != nil {
			logger.Warn("follower feed fan-out: id lookup failed",
				zap.String("author_id", authorID), zap.Error(err))
			return
		}
		followerIDs = ids
		iv.store.Set(ctx, listKey, followerIDs, TTLFor(ClassActivity, 0, len(followerIDs) == 0))
	}
	if len(followerIDs) == 0 {
		return
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(followerFanoutBatch)
	for _, fid := range followerIDs {
		fid := fid
		g.Go(func() error {
			iv.UserFeed(ctx, fid)
			return nil
		})
	}
	_ = g.Wait()
	logger.Info("invalidated follower feeds",
		zap.String("author_id", authorID), zap.Int("followers", len(followerIDs)))
}
