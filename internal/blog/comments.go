package blog

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"cvforge/internal/database"
	"cvforge/internal/errcode"
)

// MaxCommentLength 为评论内容的最大字符数。
const MaxCommentLength = 5000

// CreateComment 在已发布文章下创建评论，内容去除全部 HTML。
func (s *Store) CreateComment(ctx context.Context, postSlug string, authorID uint, content string) (database.Comment, error) {
	post, err := s.GetBySlug(ctx, postSlug, false)
	if err != nil {
		return database.Comment{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return database.Comment{}, errcode.Validation("comment content is required")
	}
	if utf8.RuneCountInString(content) > MaxCommentLength {
		return database.Comment{}, errcode.Validation(fmt.Sprintf("comment must be at most %d characters", MaxCommentLength))
	}
	clean := s.sanitizer.Text(content)
	if clean == "" {
		return database.Comment{}, errcode.Validation("comment content is required")
	}

	comment := database.Comment{PostID: post.ID, AuthorID: authorID, Content: clean}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		return database.Comment{}, errcode.Internal(fmt.Errorf("create comment: %w", err))
	}
	if err := s.db.WithContext(ctx).Preload("Author").First(&comment, comment.ID).Error; err != nil {
		return database.Comment{}, errcode.Internal(fmt.Errorf("reload comment: %w", err))
	}
	return comment, nil
}

// ListComments 按时间正序返回已发布文章的评论。
func (s *Store) ListComments(ctx context.Context, postSlug string) ([]database.Comment, error) {
	post, err := s.GetBySlug(ctx, postSlug, false)
	if err != nil {
		return nil, err
	}
	comments := []database.Comment{}
	err = s.db.WithContext(ctx).
		Preload("Author").
		Where("post_id = ?", post.ID).
		Order("created_at ASC, id ASC").
		Find(&comments).Error
	if err != nil {
		return nil, errcode.Internal(fmt.Errorf("list comments: %w", err))
	}
	return comments, nil
}

// DeleteComment 仅允许评论作者或管理员删除。
func (s *Store) DeleteComment(ctx context.Context, postSlug string, commentID, actorID uint, actorIsAdmin bool) error {
	post, err := s.GetBySlug(ctx, postSlug, true)
	if err != nil {
		return err
	}
	var comment database.Comment
	if err := s.db.WithContext(ctx).Where("id = ? AND post_id = ?", commentID, post.ID).First(&comment).Error; err != nil {
		return translateAs(err, "comment", "get comment")
	}
	if comment.AuthorID != actorID && !actorIsAdmin {
		return errcode.Unauthorized("only the author or an admin can delete this comment")
	}
	if err := s.db.WithContext(ctx).Delete(&comment).Error; err != nil {
		return errcode.Internal(fmt.Errorf("delete comment: %w", err))
	}
	return nil
}
