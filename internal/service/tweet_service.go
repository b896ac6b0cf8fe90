package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/cirkle/backend/internal/cache"
	"github.com/cirkle/backend/internal/model"
	"github.com/cirkle/backend/internal/repository"
	"github.com/cirkle/backend/pkg/apperrors"
)

// MediaInput 新推文附件参数
type MediaInput struct {
	Type string `json:"type" binding:"required,mediatype"`
	Path string `json:"path" binding:"required"`
}

// TweetService 推文及互动服务；每个写操作提交后异步触发缓存失效
type TweetService interface {
	Post(ctx context.Context, userID, text string, media []MediaInput) (*model.Tweet, error)
	Edit(ctx context.Context, userID string, tweetID int64, text string) error
	Delete(ctx context.Context, userID string, tweetID int64) error
	AddView(ctx context.Context, tweetID int64) error

	Like(ctx context.Context, userID string, tweetID int64) error
	Unlike(ctx context.Context, userID string, tweetID int64) error
	AddBookmark(ctx context.Context, userID string, tweetID int64) error
	RemoveBookmark(ctx context.Context, userID string, tweetID int64) error
	Share(ctx context.Context, userID string, tweetID int64, recipientIDs []string, message string) error

	Comment(ctx context.Context, userID string, tweetID int64, parentCommentID *int64, text string) (*model.Comment, error)
	EditComment(ctx context.Context, userID string, commentID int64, text string) error
	DeleteComment(ctx context.Context, userID string, commentID int64) error
	LikeComment(ctx context.Context, userID string, commentID int64) error
	UnlikeComment(ctx context.Context, userID string, commentID int64) error
	ListComments(ctx context.Context, tweetID int64, page, pageSize int) ([]*model.Comment, error)

	ReportTweet(ctx context.Context, userID string, tweetID int64, reason string) error
	ReportComment(ctx context.Context, userID string, commentID int64, reason string) error
}

type tweetService struct {
	tweets  repository.TweetRepository
	eng     repository.EngagementRepository
	follows repository.FollowRepository
	users   repository.UserRepository
	inval   *cache.Invalidator
	worker  *InvalidationWorker
}

func NewTweetService(
	tweets repository.TweetRepository,
	eng repository.EngagementRepository,
	follows repository.FollowRepository,
	users repository.UserRepository,
	inval *cache.Invalidator,
	worker *InvalidationWorker,
) TweetService {
	return &tweetService{tweets: tweets, eng: eng, follows: follows, users: users, inval: inval, worker: worker}
}

// ensureActive rejects writes from blocked users, lifting expired temporary
// blocks on the way.
func (s *tweetService) ensureActive(ctx context.Context, userID string) error {
	blocked, err := s.users.ClearExpiredBlock(ctx, userID, time.Now())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("user not found")
		}
		return err
	}
	if blocked {
		return apperrors.Validation("user is blocked")
	}
	return nil
}

func validateTweetText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return apperrors.Validation("tweet text is empty")
	}
	if len(text) > model.MaxTweetTextLen {
		return apperrors.Validationf("tweet text exceeds %d characters", model.MaxTweetTextLen)
	}
	return nil
}

func validateCommentText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return apperrors.Validation("comment text is empty")
	}
	if len(text) > model.MaxCommentTextLen {
		return apperrors.Validationf("comment text exceeds %d characters", model.MaxCommentTextLen)
	}
	return nil
}

func (s *tweetService) Post(ctx context.Context, userID, text string, media []MediaInput) (*model.Tweet, error) {
	if err := validateTweetText(text); err != nil {
		return nil, err
	}
	if len(media) > model.MaxTweetMedia {
		return nil, apperrors.Validationf("at most %d media items per tweet", model.MaxTweetMedia)
	}
	if err := s.ensureActive(ctx, userID); err != nil {
		return nil, err
	}

	tweet := &model.Tweet{UserID: userID, Text: strings.TrimSpace(text)}
	rows := make([]*model.TweetMedia, 0, len(media))
	for _, m := range media {
		rows = append(rows, &model.TweetMedia{MediaType: m.Type, MediaPath: m.Path})
	}
	if err := s.tweets.Create(ctx, tweet, rows); err != nil {
		return nil, err
	}

	s.worker.Enqueue("post_tweet", func(ctx context.Context) {
		s.inval.UserFeed(ctx, userID)
		s.inval.Profile(ctx, userID)
		s.inval.UserInteraction(ctx, userID)
		s.inval.GlobalRecommendations(ctx)
		s.inval.FeedForFollowers(ctx, userID)
	})
	return tweet, nil
}

// mustOwnTweet loads the tweet and checks ownership.
func (s *tweetService) mustOwnTweet(ctx context.Context, userID string, tweetID int64) (*model.Tweet, error) {
	tweet, err := s.tweets.GetByID(ctx, tweetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("tweet not found")
		}
		return nil, err
	}
	if tweet.UserID != userID {
		return nil, apperrors.Validation("not the tweet author")
	}
	return tweet, nil
}

func (s *tweetService) Edit(ctx context.Context, userID string, tweetID int64, text string) error {
	if err := validateTweetText(text); err != nil {
		return err
	}
	tweet, err := s.mustOwnTweet(ctx, userID, tweetID)
	if err != nil {
		return err
	}
	if err := s.tweets.UpdateText(ctx, tweetID, strings.TrimSpace(text), time.Now()); err != nil {
		return err
	}
	s.worker.Enqueue("edit_tweet", func(ctx context.Context) {
		s.inval.TweetEngagement(ctx, tweetID)
		s.inval.UserFeed(ctx, tweet.UserID)
		s.inval.FeedForFollowers(ctx, tweet.UserID)
	})
	return nil
}

func (s *tweetService) Delete(ctx context.Context, userID string, tweetID int64) error {
	tweet, err := s.mustOwnTweet(ctx, userID, tweetID)
	if err != nil {
		return err
	}
	if err := s.tweets.Delete(ctx, tweetID); err != nil {
		return err
	}
	s.worker.Enqueue("delete_tweet", func(ctx context.Context) {
		s.inval.TweetEngagement(ctx, tweetID)
		s.inval.UserFeed(ctx, tweet.UserID)
		s.inval.Profile(ctx, tweet.UserID)
		s.inval.GlobalRecommendations(ctx)
		s.inval.FeedForFollowers(ctx, tweet.UserID)
	})
	return nil
}

func (s *tweetService) AddView(ctx context.Context, tweetID int64) error {
	return s.tweets.AddView(ctx, tweetID)
}

func (s *tweetService) getTweet(ctx context.Context, tweetID int64) (*model.Tweet, error) {
	tweet, err := s.tweets.GetByID(ctx, tweetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("tweet not found")
		}
		return nil, err
	}
	return tweet, nil
}

func (s *tweetService) Like(ctx context.Context, userID string, tweetID int64) error {
	if err := s.ensureActive(ctx, userID); err != nil {
		return err
	}
	tweet, err := s.getTweet(ctx, tweetID)
	if err != nil {
		return err
	}
	if err := s.eng.Like(ctx, tweetID, userID); err != nil {
		return err
	}
	s.worker.Enqueue("like_tweet", func(ctx context.Context) {
		s.inval.TweetEngagement(ctx, tweetID)
		s.inval.UserInteraction(ctx, userID)
		s.inval.FeedForFollowers(ctx, tweet.UserID)
	})
	return nil
}

func (s *tweetService) Unlike(ctx context.Context, userID string, tweetID int64) error {
	tweet, err := s.getTweet(ctx, tweetID)
	if err != nil {
		return err
	}
	if err := s.eng.Unlike(ctx, tweetID, userID); err != nil {
		return err
	}
	s.worker.Enqueue("unlike_tweet", func(ctx context.Context) {
		s.inval.TweetEngagement(ctx, tweetID)
		s.inval.UserInteraction(ctx, userID)
		s.inval.FeedForFollowers(ctx, tweet.UserID)
	})
	return nil
}

func (s *tweetService) AddBookmark(ctx context.Context, userID string, tweetID int64) error {
	if err := s.ensureActive(ctx, userID); err != nil {
		return err
	}
	if _, err := s.getTweet(ctx, tweetID); err != nil {
		return err
	}
	if err := s.eng.AddBookmark(ctx, tweetID, userID); err != nil {
		return err
	}
	s.worker.Enqueue("bookmark", func(ctx context.Context) {
		s.inval.TweetEngagement(ctx, tweetID)
		s.inval.UserInteraction(ctx, userID)
	})
	return nil
}

func (s *tweetService) RemoveBookmark(ctx context.Context, userID string, tweetID int64) error {
	if err := s.eng.RemoveBookmark(ctx, tweetID, userID); err != nil {
		return err
	}
	s.worker.Enqueue("unbookmark", func(ctx context.Context) {
		s.inval.TweetEngagement(ctx, tweetID)
		s.inval.UserInteraction(ctx, userID)
	})
	return nil
}

// Share delivers a tweet to mutual followers only.
func (s *tweetService) Share(ctx context.Context, userID string, tweetID int64, recipientIDs []string, message string) error {
	if len(recipientIDs) == 0 {
		return apperrors.Validation("no share recipients")
	}
	if len(message) > model.MaxCommentTextLen {
		return apperrors.Validationf("share message exceeds %d characters", model.MaxCommentTextLen)
	}
	if err := s.ensureActive(ctx, userID); err != nil {
		return err
	}
	if _, err := s.getTweet(ctx, tweetID); err != nil {
		return err
	}
	for _, rid := range recipientIDs {
		if rid == userID {
			return apperrors.Validation("cannot share to self")
		}
		mutual, err := s.follows.AreMutual(ctx, userID, rid)
		if err != nil {
			return err
		}
		if !mutual {
			return apperrors.Validationf("recipient %s is not a mutual follower", rid)
		}
	}
	if err := s.eng.CreateShares(ctx, tweetID, userID, recipientIDs, message); err != nil {
		return err
	}
	s.worker.Enqueue("share_tweet", func(ctx context.Context) {
		s.inval.Share(ctx, tweetID, userID, recipientIDs)
	})
	return nil
}

func (s *tweetService) Comment(ctx context.Context, userID string, tweetID int64, parentCommentID *int64, text string) (*model.Comment, error) {
	if err := validateCommentText(text); err != nil {
		return nil, err
	}
	if err := s.ensureActive(ctx, userID); err != nil {
		return nil, err
	}
	tweet, err := s.getTweet(ctx, tweetID)
	if err != nil {
		return nil, err
	}
	if parentCommentID != nil {
		parent, err := s.eng.GetComment(ctx, *parentCommentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperrors.NotFound("parent comment not found")
			}
			return nil, err
		}
		if parent.TweetID != tweetID {
			return nil, apperrors.Validation("parent comment belongs to a different tweet")
		}
		if parent.ParentCommentID != nil {
			// 只支持一层回复
			return nil, apperrors.Validation("replies to replies are not supported")
		}
	}
	c := &model.Comment{TweetID: tweetID, UserID: userID, Text: strings.TrimSpace(text), ParentCommentID: parentCommentID}
	if err := s.eng.CreateComment(ctx, c); err != nil {
		return nil, err
	}
	s.worker.Enqueue("comment", func(ctx context.Context) {
		s.inval.Comment(ctx, c.ID, tweetID, parentCommentID)
		s.inval.TweetEngagement(ctx, tweetID)
		s.inval.FeedForFollowers(ctx, tweet.UserID)
	})
	return c, nil
}

func (s *tweetService) mustOwnComment(ctx context.Context, userID string, commentID int64) (*model.Comment, error) {
	c, err := s.eng.GetComment(ctx, commentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("comment not found")
		}
		return nil, err
	}
	if c.UserID != userID {
		return nil, apperrors.Validation("not the comment author")
	}
	return c, nil
}

func (s *tweetService) EditComment(ctx context.Context, userID string, commentID int64, text string) error {
	if err := validateCommentText(text); err != nil {
		return err
	}
	c, err := s.mustOwnComment(ctx, userID, commentID)
	if err != nil {
		return err
	}
	if err := s.eng.UpdateCommentText(ctx, commentID, strings.TrimSpace(text), time.Now()); err != nil {
		return err
	}
	s.worker.Enqueue("edit_comment", func(ctx context.Context) {
		s.inval.Comment(ctx, commentID, c.TweetID, c.ParentCommentID)
	})
	return nil
}

func (s *tweetService) DeleteComment(ctx context.Context, userID string, commentID int64) error {
	c, err := s.mustOwnComment(ctx, userID, commentID)
	if err != nil {
		return err
	}
	if err := s.eng.DeleteComment(ctx, commentID); err != nil {
		return err
	}
	s.worker.Enqueue("delete_comment", func(ctx context.Context) {
		s.inval.Comment(ctx, commentID, c.TweetID, c.ParentCommentID)
		s.inval.TweetEngagement(ctx, c.TweetID)
	})
	return nil
}

func (s *tweetService) LikeComment(ctx context.Context, userID string, commentID int64) error {
	if err := s.ensureActive(ctx, userID); err != nil {
		return err
	}
	c, err := s.eng.GetComment(ctx, commentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("comment not found")
		}
		return err
	}
	if err := s.eng.LikeComment(ctx, commentID, userID); err != nil {
		return err
	}
	s.worker.Enqueue("like_comment", func(ctx context.Context) {
		s.inval.Comment(ctx, commentID, c.TweetID, c.ParentCommentID)
		s.inval.UserInteraction(ctx, userID)
	})
	return nil
}

func (s *tweetService) UnlikeComment(ctx context.Context, userID string, commentID int64) error {
	c, err := s.eng.GetComment(ctx, commentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("comment not found")
		}
		return err
	}
	if err := s.eng.UnlikeComment(ctx, commentID, userID); err != nil {
		return err
	}
	s.worker.Enqueue("unlike_comment", func(ctx context.Context) {
		s.inval.Comment(ctx, commentID, c.TweetID, c.ParentCommentID)
		s.inval.UserInteraction(ctx, userID)
	})
	return nil
}

func (s *tweetService) ListComments(ctx context.Context, tweetID int64, page, pageSize int) ([]*model.Comment, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return s.eng.ListComments(ctx, tweetID, (page-1)*pageSize, pageSize)
}

func (s *tweetService) ReportTweet(ctx context.Context, userID string, tweetID int64, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return apperrors.Validation("report reason is empty")
	}
	tweet, err := s.getTweet(ctx, tweetID)
	if err != nil {
		return err
	}
	if tweet.UserID == userID {
		return apperrors.Validation("cannot report own tweet")
	}
	// 快照内容，便于被删后审计
	snap, _ := json.Marshal(map[string]any{"text": tweet.Text, "author_id": tweet.UserID})
	report := &model.TweetReport{TweetID: tweetID, UserID: userID, Reason: reason, Snapshot: string(snap)}
	if err := s.eng.ReportTweet(ctx, report); err != nil {
		return err
	}
	s.worker.Enqueue("report_tweet", func(ctx context.Context) {
		s.inval.AdminListings(ctx)
	})
	return nil
}

func (s *tweetService) ReportComment(ctx context.Context, userID string, commentID int64, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return apperrors.Validation("report reason is empty")
	}
	c, err := s.eng.GetComment(ctx, commentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("comment not found")
		}
		return err
	}
	if c.UserID == userID {
		return apperrors.Validation("cannot report own comment")
	}
	snap, _ := json.Marshal(map[string]any{"text": c.Text, "author_id": c.UserID, "tweet_id": c.TweetID})
	report := &model.CommentReport{CommentID: commentID, UserID: userID, Reason: reason, Snapshot: string(snap)}
	if err := s.eng.ReportComment(ctx, report); err != nil {
		return err
	}
	s.worker.Enqueue("report_comment", func(ctx context.Context) {
		s.inval.AdminListings(ctx)
	})
	return nil
}
