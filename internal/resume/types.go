package resume

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// Content 表示存储在 CV Content(JSONB) 中的结构化数据。
// 服务端只校验存在性，字段结构与前端模板保持一致。
type Content struct {
	PersonalInfo PersonalInfo  `json:"personalInfo"`
	Summary      string        `json:"summary"`
	Experience   []Experience  `json:"experience"`
	Education    []Education   `json:"education"`
	Skills       []Skill       `json:"skills"`
	Languages    []Language    `json:"languages"`
	Achievements []Achievement `json:"achievements"`
	Certificates []Certificate `json:"certificates"`
}

// PersonalInfo 描述简历抬头。
type PersonalInfo struct {
	FullName string `json:"fullName"`
	Title    string `json:"title"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Location string `json:"location"`
	Website  string `json:"website,omitempty"`
	PhotoURL string `json:"photoUrl,omitempty"`
}

// Experience 表示一段工作经历。
type Experience struct {
	ID          string `json:"id"`
	Company     string `json:"company"`
	Position    string `json:"position"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	Current     bool   `json:"current"`
	Description string `json:"description"`
}

// Education 表示一段教育经历。
type Education struct {
	ID          string `json:"id"`
	Institution string `json:"institution"`
	Degree      string `json:"degree"`
	Field       string `json:"field"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
}

type Skill struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Level string `json:"level"`
}

type Language struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Proficiency string `json:"proficiency"`
}

type Achievement struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type Certificate struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Issuer string `json:"issuer"`
	Date   string `json:"date"`
}

// JSON 将 Content 编码为 JSONB 值。
func (c Content) JSON() datatypes.JSON {
	raw, err := json.Marshal(c)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}

// EmptyContent 返回所有列表为空数组的内容骨架。
func EmptyContent() Content {
	return Content{
		Experience:   []Experience{},
		Education:    []Education{},
		Skills:       []Skill{},
		Languages:    []Language{},
		Achievements: []Achievement{},
		Certificates: []Certificate{},
	}
}
