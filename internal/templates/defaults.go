package templates

import (
	"cvforge/internal/database"
	"cvforge/internal/resume"
)

type seed struct {
	id          string
	name        string
	category    database.TemplateCategory
	description string
}

var builtin = []seed{
	{"simple-classic", "Classic", database.CategorySimple, "Single column layout with clear section headings."},
	{"simple-minimal", "Minimal", database.CategorySimple, "Generous whitespace and a restrained type scale."},
	{"modern-sidebar", "Sidebar", database.CategoryModern, "Two columns with a tinted sidebar for contact details and skills."},
	{"modern-timeline", "Timeline", database.CategoryModern, "Experience rendered as a vertical timeline."},
	{"creative-bold", "Bold", database.CategoryCreative, "Large display name and accent colour blocks."},
	{"creative-portfolio", "Portfolio", database.CategoryCreative, "Photo header and project highlights."},
	{"professional-executive", "Executive", database.CategoryProfessional, "Dense layout for senior roles with an achievements summary."},
	{"professional-academic", "Academic", database.CategoryProfessional, "Education first, with certificates and publications."},
}

// DefaultCatalog 返回内置模板目录，供管理端重置与命令行初始化使用。
func DefaultCatalog() []database.CVTemplate {
	list := make([]database.CVTemplate, 0, len(builtin))
	for i, s := range builtin {
		list = append(list, database.CVTemplate{
			ID:             s.id,
			Name:           s.name,
			Category:       s.category,
			Description:    s.description,
			PreviewURL:     "/templates/" + s.id + ".png",
			IsActive:       true,
			SortOrder:      i + 1,
			DefaultContent: DefaultContent(s.category).JSON(),
		})
	}
	return list
}

// DefaultContent 返回某一分类模板的示例内容。
func DefaultContent(category database.TemplateCategory) resume.Content {
	content := resume.EmptyContent()
	content.PersonalInfo = resume.PersonalInfo{
		FullName: "Your Name",
		Title:    "Your Title",
		Email:    "you@example.com",
	}
	content.Summary = "A short summary of your experience and goals."
	content.Experience = []resume.Experience{{
		ID:          "exp-1",
		Company:     "Company",
		Position:    "Position",
		StartDate:   "2022-01",
		Current:     true,
		Description: "What you built and the impact it had.",
	}}
	content.Education = []resume.Education{{
		ID:          "edu-1",
		Institution: "University",
		Degree:      "Degree",
		Field:       "Field of study",
		StartDate:   "2018-09",
		EndDate:     "2022-06",
	}}
	content.Skills = []resume.Skill{{ID: "skill-1", Name: "Skill", Level: "Advanced"}}

	switch category {
	case database.CategoryProfessional:
		content.Achievements = []resume.Achievement{{ID: "ach-1", Title: "Achievement", Description: "A measurable result."}}
		content.Certificates = []resume.Certificate{{ID: "cert-1", Name: "Certificate", Issuer: "Issuer", Date: "2023-05"}}
	case database.CategoryCreative:
		content.PersonalInfo.Website = "https://example.com"
	}
	content.Languages = []resume.Language{{ID: "lang-1", Name: "English", Proficiency: "Fluent"}}
	return content
}
