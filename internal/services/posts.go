package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/ecole/gate"
	"github.com/diewo77/ecole/internal/models"
	"github.com/diewo77/ecole/internal/policy"
	"github.com/diewo77/ecole/internal/visibility"
	"github.com/diewo77/ecole/validation"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PostService runs the announcement feed.
type PostService struct {
	db          *gorm.DB
	gate        *policy.AuthGate
	attachments *AttachmentService
	now         func() time.Time
}

func NewPostService(db *gorm.DB, g *policy.AuthGate, attachments *AttachmentService) *PostService {
	return &PostService{db: db, gate: g, attachments: attachments, now: time.Now}
}

// WithClock replaces the service clock.
func (s *PostService) WithClock(now func() time.Time) *PostService {
	s.now = now
	return s
}

func (s *PostService) timestamp() time.Time { return s.now().UTC().Truncate(time.Microsecond) }

type CreatePostInput struct {
	Content     string
	Type        string
	IsPinned    bool
	ClassID     *uint
	Attachments []Upload
}

// OptionalClass distinguishes "leave unchanged" from "set to global".
type OptionalClass struct {
	Set bool
	ID  *uint
}

type UpdatePostInput struct {
	Content string
	Type    *string
	ClassID OptionalClass
}

type ListPostsInput struct {
	Class visibility.ClassFilter
	Page  int
	Limit int
}

func validatePostContent(content string, v validation.Violations) {
	validation.Required("content", content, v)
	validation.MaxLength("content", content, models.PostContentMax, v)
}

func validatePostType(raw string, v validation.Violations) models.PostType {
	t, err := models.ParsePostType(raw)
	if err != nil {
		v.Add("type", "invalid_post_type")
	}
	return t
}

func (s *PostService) classExists(ctx context.Context, id uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Class{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

// Create publishes a post. isPinned is only honoured for actors allowed to pin.
func (s *PostService) Create(ctx context.Context, a *policy.Actor, in CreatePostInput) (*PostView, error) {
	in.Content = strings.TrimSpace(in.Content)
	v := make(validation.Violations)
	postType := validatePostType(in.Type, v)
	validatePostContent(in.Content, v)
	if err := validationErr(v); err != nil {
		return nil, err
	}
	if err := s.attachments.Validate(in.Attachments); err != nil {
		return nil, err
	}

	post := models.Post{
		AuthorID: a.ID,
		Content:  in.Content,
		Type:     postType,
		IsPinned: in.IsPinned && policy.CanPin(a.Role),
		ClassID:  in.ClassID,
	}
	if err := s.gate.Authorize(ctx, a, gate.ActionCreate, policy.ResourcePost, &post); err != nil {
		return nil, translate(err)
	}
	if in.ClassID != nil {
		ok, err := s.classExists(ctx, *in.ClassID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, invalid("classId", "unknown_class")
		}
	}

	atts, err := s.attachments.Ingest(ctx, "posts", in.Attachments)
	if err != nil {
		return nil, err
	}
	now := s.timestamp()
	post.CreatedAt, post.UpdatedAt = now, now
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&post).Error; err != nil {
			return err
		}
		for i := range atts {
			atts[i].PostID = &post.ID
		}
		if len(atts) > 0 {
			return tx.Create(&atts).Error
		}
		return nil
	})
	if err != nil {
		s.attachments.Discard(context.WithoutCancel(ctx), atts)
		return nil, fmt.Errorf("create post: %w", translate(err))
	}
	return s.Get(ctx, a, post.ID)
}

// List returns one page of the actor's feed.
func (s *PostService) List(ctx context.Context, a *policy.Actor, in ListPostsInput) (*PostPage, error) {
	if !s.gate.CanProfile(ctx, a, gate.ActionList, policy.ResourcePost) {
		return nil, ErrForbidden
	}
	page, limit := in.Page, in.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	pred := visibility.For(a, in.Class)
	db := s.db.WithContext(ctx)
	var total int64
	if err := db.Model(&models.Post{}).Scopes(pred.Apply).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count posts: %w", err)
	}
	var posts []models.Post
	if err := s.hydrated(db).
		Scopes(pred.Apply, visibility.Ordered).
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	views, err := s.views(ctx, a, posts)
	if err != nil {
		return nil, err
	}
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &PostPage{
		Posts: views,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
			HasMore:    page < totalPages,
		},
	}, nil
}

// Get returns a single post the actor can see. Invisible posts are reported
// as not found.
func (s *PostService) Get(ctx context.Context, a *policy.Actor, id uint) (*PostView, error) {
	if !s.gate.CanProfile(ctx, a, gate.ActionView, policy.ResourcePost) {
		return nil, ErrForbidden
	}
	var post models.Post
	if err := s.hydrated(s.db.WithContext(ctx)).First(&post, id).Error; err != nil {
		return nil, translate(err)
	}
	if !visibility.For(a, visibility.ClassFilter{}).Allows(post.Scope()) {
		return nil, ErrNotFound
	}
	views, err := s.views(ctx, a, []models.Post{post})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// Update edits content, and optionally type and class, of the actor's post.
func (s *PostService) Update(ctx context.Context, a *policy.Actor, id uint, in UpdatePostInput) (*PostView, error) {
	in.Content = strings.TrimSpace(in.Content)
	v := make(validation.Violations)
	validatePostContent(in.Content, v)
	var postType models.PostType
	if in.Type != nil {
		postType = validatePostType(*in.Type, v)
	}
	if err := validationErr(v); err != nil {
		return nil, err
	}

	post, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Authorize(ctx, a, gate.ActionUpdate, policy.ResourcePost, post); err != nil {
		return nil, translate(err)
	}

	updates := map[string]any{"content": in.Content, "updated_at": s.timestamp()}
	if in.Type != nil {
		updates["type"] = postType
	}
	if in.ClassID.Set {
		if in.ClassID.ID != nil {
			if !policy.CanPostToClass(a, *in.ClassID.ID) {
				return nil, ErrForbidden
			}
			ok, err := s.classExists(ctx, *in.ClassID.ID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, invalid("classId", "unknown_class")
			}
		}
		updates["class_id"] = in.ClassID.ID
	}
	if err := s.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}
	return s.Get(ctx, a, id)
}

// Delete removes the post with its attachments, comments and likes.
func (s *PostService) Delete(ctx context.Context, a *policy.Actor, id uint) error {
	post, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.gate.Authorize(ctx, a, gate.ActionDelete, policy.ResourcePost, post); err != nil {
		return translate(err)
	}
	var atts []models.Attachment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", id).Find(&atts).Error; err != nil {
			return err
		}
		for _, child := range []any{&models.Like{}, &models.Comment{}, &models.Attachment{}} {
			if err := tx.Where("post_id = ?", id).Delete(child).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.Post{}, id).Error
	})
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	s.attachments.Discard(context.WithoutCancel(ctx), atts)
	return nil
}

// SetPinned pins or unpins a post.
func (s *PostService) SetPinned(ctx context.Context, a *policy.Actor, id uint, pinned bool) (*PostView, error) {
	if !s.gate.CanProfile(ctx, a, policy.ActionPin, policy.ResourcePost) {
		return nil, ErrForbidden
	}
	res := s.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id).
		Updates(map[string]any{"is_pinned": pinned, "updated_at": s.timestamp()})
	if res.Error != nil {
		return nil, fmt.Errorf("pin post: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, a, id)
}

// AddComment appends a comment to a post visible to the actor.
func (s *PostService) AddComment(ctx context.Context, a *policy.Actor, postID uint, content string) (*CommentView, error) {
	content = strings.TrimSpace(content)
	v := make(validation.Violations)
	validation.Required("content", content, v)
	validation.MaxLength("content", content, models.PostContentMax, v)
	if err := validationErr(v); err != nil {
		return nil, err
	}
	if !s.gate.CanProfile(ctx, a, policy.ActionComment, policy.ResourcePost) {
		return nil, ErrForbidden
	}
	if _, err := s.visible(ctx, a, postID); err != nil {
		return nil, err
	}
	c := models.Comment{PostID: postID, AuthorID: a.ID, Content: content, CreatedAt: s.timestamp()}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &CommentView{ID: c.ID, PostID: postID, Content: c.Content, CreatedAt: c.CreatedAt, Author: actorRef(a)}, nil
}

// ToggleLike flips the actor's like on a post and returns the new state.
func (s *PostService) ToggleLike(ctx context.Context, a *policy.Actor, postID uint) (*LikeState, error) {
	if !s.gate.CanProfile(ctx, a, policy.ActionLike, policy.ResourcePost) {
		return nil, ErrForbidden
	}
	if _, err := s.visible(ctx, a, postID); err != nil {
		return nil, err
	}
	state := &LikeState{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("post_id = ? AND user_id = ?", postID, a.ID).Delete(&models.Like{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			like := models.Like{PostID: postID, UserID: a.ID, CreatedAt: s.timestamp()}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&like).Error; err != nil {
				return err
			}
			state.Liked = true
		}
		return tx.Model(&models.Like{}).Where("post_id = ?", postID).Count(&state.LikesCount).Error
	})
	if err != nil {
		return nil, fmt.Errorf("toggle like: %w", translate(err))
	}
	return state, nil
}

func (s *PostService) load(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	if err := s.db.WithContext(ctx).First(&post, id).Error; err != nil {
		return nil, translate(err)
	}
	return &post, nil
}

func (s *PostService) visible(ctx context.Context, a *policy.Actor, id uint) (*models.Post, error) {
	post, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visibility.For(a, visibility.ClassFilter{}).Allows(post.Scope()) {
		return nil, ErrNotFound
	}
	return post, nil
}

func (s *PostService) hydrated(db *gorm.DB) *gorm.DB {
	return db.Model(&models.Post{}).
		Preload("Author").
		Preload("Class").
		Preload("Attachments", func(db *gorm.DB) *gorm.DB { return db.Order("attachments.id") }).
		Preload("Comments", func(db *gorm.DB) *gorm.DB {
			return db.Order("comments.created_at ASC").Order("comments.id ASC")
		}).
		Preload("Comments.Author")
}

type postLikeCount struct {
	PostID uint
	N      int64
}

// views projects posts, counting likes for the whole page in two queries.
func (s *PostService) views(ctx context.Context, a *policy.Actor, posts []models.Post) ([]PostView, error) {
	out := make([]PostView, 0, len(posts))
	if len(posts) == 0 {
		return out, nil
	}
	ids := make([]uint, len(posts))
	for i := range posts {
		ids[i] = posts[i].ID
	}
	db := s.db.WithContext(ctx)
	var counts []postLikeCount
	if err := db.Model(&models.Like{}).
		Select("post_id, COUNT(*) AS n").
		Where("post_id IN ?", ids).
		Group("post_id").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count likes: %w", err)
	}
	byPost := make(map[uint]int64, len(counts))
	for _, c := range counts {
		byPost[c.PostID] = c.N
	}
	var liked []uint
	if err := db.Model(&models.Like{}).
		Where("user_id = ? AND post_id IN ?", a.ID, ids).
		Pluck("post_id", &liked).Error; err != nil {
		return nil, fmt.Errorf("load likes: %w", err)
	}
	likedSet := make(map[uint]bool, len(liked))
	for _, id := range liked {
		likedSet[id] = true
	}

	for i := range posts {
		p := &posts[i]
		v := PostView{
			ID:          p.ID,
			Content:     p.Content,
			Type:        p.Type,
			IsPinned:    p.IsPinned,
			ClassID:     p.ClassID,
			CreatedAt:   p.CreatedAt,
			UpdatedAt:   p.UpdatedAt,
			Author:      userRef(&p.Author),
			Attachments: p.Attachments,
			Comments:    make([]CommentView, 0, len(p.Comments)),
			LikesCount:  byPost[p.ID],
			LikedByMe:   likedSet[p.ID],
		}
		if v.Attachments == nil {
			v.Attachments = []models.Attachment{}
		}
		if p.Class != nil {
			v.Class = &ClassRef{ID: p.Class.ID, Name: p.Class.Name}
		}
		for j := range p.Comments {
			c := &p.Comments[j]
			v.Comments = append(v.Comments, CommentView{
				ID: c.ID, PostID: c.PostID, Content: c.Content, CreatedAt: c.CreatedAt, Author: userRef(&c.Author),
			})
		}
		out = append(out, v)
	}
	return out, nil
}
