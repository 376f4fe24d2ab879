package api

import (
	"time"

	"gorm.io/datatypes"

	"cvforge/internal/database"
	"cvforge/internal/templates"
)

type cvResponse struct {
	ID          uint           `json:"id"`
	TemplateID  string         `json:"template_id"`
	Title       string         `json:"title"`
	Content     datatypes.JSON `json:"content,omitempty"`
	IsPublished bool           `json:"is_published"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func newCVResponse(cv database.CV, withContent bool) cvResponse {
	resp := cvResponse{
		ID:          cv.ID,
		TemplateID:  cv.TemplateID,
		Title:       cv.Title,
		IsPublished: cv.IsPublished,
		CreatedAt:   cv.CreatedAt,
		UpdatedAt:   cv.UpdatedAt,
	}
	if withContent {
		resp.Content = cv.Content
	}
	return resp
}

type templateResponse struct {
	ID             string                    `json:"id"`
	Name           string                    `json:"name"`
	Category       database.TemplateCategory `json:"category"`
	Description    string                    `json:"description"`
	PreviewURL     string                    `json:"preview_url"`
	DefaultContent datatypes.JSON            `json:"default_content,omitempty"`
}

func newTemplateResponses(list []database.CVTemplate) []templateResponse {
	out := make([]templateResponse, 0, len(list))
	for _, t := range list {
		out = append(out, templateResponse{
			ID:             t.ID,
			Name:           t.Name,
			Category:       t.Category,
			Description:    t.Description,
			PreviewURL:     t.PreviewURL,
			DefaultContent: t.DefaultContent,
		})
	}
	return out
}

type templateCatalogResponse struct {
	Categories map[database.TemplateCategory][]templateResponse `json:"categories"`
	All        []templateResponse                               `json:"all"`
}

func newTemplateCatalogResponse(grouped templates.Grouped) templateCatalogResponse {
	resp := templateCatalogResponse{
		Categories: make(map[database.TemplateCategory][]templateResponse, len(grouped.Categories)),
		All:        newTemplateResponses(grouped.All),
	}
	for category, list := range grouped.Categories {
		resp.Categories[category] = newTemplateResponses(list)
	}
	return resp
}

type userResponse struct {
	ID           uint          `json:"id"`
	ExternalID   string        `json:"external_id"`
	Name         string        `json:"name"`
	Email        string        `json:"email"`
	Role         database.Role `json:"role"`
	LastSyncedAt *time.Time    `json:"last_synced_at,omitempty"`
	LastSeenAt   *time.Time    `json:"last_seen_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

func newUserResponse(u database.User) userResponse {
	return userResponse{
		ID:           u.ID,
		ExternalID:   u.ExternalID,
		Name:         u.Name,
		Email:        u.Email,
		Role:         u.Role,
		LastSyncedAt: u.LastSyncedAt,
		LastSeenAt:   u.LastSeenAt,
		CreatedAt:    u.CreatedAt,
	}
}

type authorResponse struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type termResponse struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func newCategoryResponses(list []database.Category) []termResponse {
	out := make([]termResponse, 0, len(list))
	for _, c := range list {
		out = append(out, termResponse{ID: c.ID, Name: c.Name, Slug: c.Slug})
	}
	return out
}

func newTagResponses(list []database.Tag) []termResponse {
	out := make([]termResponse, 0, len(list))
	for _, t := range list {
		out = append(out, termResponse{ID: t.ID, Name: t.Name, Slug: t.Slug})
	}
	return out
}

type postResponse struct {
	ID             uint           `json:"id"`
	Slug           string         `json:"slug"`
	Title          string         `json:"title"`
	Content        string         `json:"content,omitempty"`
	Excerpt        string         `json:"excerpt"`
	SEOTitle       string         `json:"seo_title,omitempty"`
	SEODescription string         `json:"seo_description,omitempty"`
	Published      bool           `json:"published"`
	PublishedAt    *time.Time     `json:"published_at,omitempty"`
	Author         authorResponse `json:"author"`
	Categories     []termResponse `json:"categories"`
	Tags           []termResponse `json:"tags"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// 列表页不返回正文
func newPostResponse(p database.BlogPost, withContent bool) postResponse {
	resp := postResponse{
		ID:             p.ID,
		Slug:           p.Slug,
		Title:          p.Title,
		Excerpt:        p.Excerpt,
		SEOTitle:       p.SEOTitle,
		SEODescription: p.SEODescription,
		Published:      p.Published,
		PublishedAt:    p.PublishedAt,
		Author:         authorResponse{ID: p.AuthorID, Name: p.Author.Name},
		Categories:     newCategoryResponses(p.Categories),
		Tags:           newTagResponses(p.Tags),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if withContent {
		resp.Content = p.Content
	}
	return resp
}

type commentResponse struct {
	ID        uint           `json:"id"`
	PostID    uint           `json:"post_id"`
	Author    authorResponse `json:"author"`
	Content   string         `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
}

func newCommentResponse(c database.Comment) commentResponse {
	return commentResponse{
		ID:        c.ID,
		PostID:    c.PostID,
		Author:    authorResponse{ID: c.AuthorID, Name: c.Author.Name},
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
	}
}
