package types

// CandidateProfile 候选人结构化档案
type CandidateProfile struct {
	ID             string           `json:"id,omitempty"`
	PersonalInfo   PersonalInfo     `json:"personal_info"`
	Education      []Education      `json:"education"`
	WorkExperience []WorkExperience `json:"work_experience"`
	Skills         []Skill          `json:"skills"`
	Projects       []Project        `json:"projects"`
	Certifications []Certification  `json:"certifications"`
	RawText        string           `json:"raw_text"`
	Embedding      []float64        `json:"embedding,omitempty"`
}

// PersonalInfo 个人信息
type PersonalInfo struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
	Location *string `json:"location"`
	LinkedIn *string `json:"linkedin"`
	GitHub   *string `json:"github"`
	Website  *string `json:"website"`
}

// Education 教育经历
type Education struct {
	Institution  *string      `json:"institution"`
	Degree       *string      `json:"degree"`
	FieldOfStudy *string      `json:"field_of_study"`
	StartDate    *PartialDate `json:"start_date"`
	EndDate      *PartialDate `json:"end_date"`
	GPA          *float64     `json:"gpa"`
}

// WorkExperience 工作经历
type WorkExperience struct {
	Company     string       `json:"company"`
	Position    string       `json:"position"`
	StartDate   *PartialDate `json:"start_date"`
	EndDate     *PartialDate `json:"end_date"`
	Location    *string      `json:"location"`
	Description *string      `json:"description"`
	Highlights  []string     `json:"highlights"`
}

// Skill 技能，Category 可为空
type Skill struct {
	Name     string  `json:"name"`
	Category *string `json:"category"`
}

// Project 项目经历
type Project struct {
	Name         string       `json:"name"`
	Description  *string      `json:"description"`
	Technologies []string     `json:"technologies"`
	StartDate    *PartialDate `json:"start_date"`
	EndDate      *PartialDate `json:"end_date"`
	URL          *string      `json:"url"`
}

// Certification 证书
type Certification struct {
	Name           string       `json:"name"`
	Issuer         *string      `json:"issuer"`
	URL            *string      `json:"url"`
	Date           *PartialDate `json:"date"`
	ExpirationDate *PartialDate `json:"expiration_date"`
}

// Name 返回候选人姓名，未知时为空串
func (p *CandidateProfile) Name() string {
	if p == nil || p.PersonalInfo.Name == nil {
		return ""
	}
	return *p.PersonalInfo.Name
}

// ResetCollections 将所有集合字段置为空列表
func (p *CandidateProfile) ResetCollections() {
	p.Education = []Education{}
	p.WorkExperience = []WorkExperience{}
	p.Skills = []Skill{}
	p.Projects = []Project{}
	p.Certifications = []Certification{}
}

// EntityMapEntry 实体映射表中的一项，键为小写全名
type EntityMapEntry struct {
	ID           string
	Aliases      map[string]struct{}
	Skills       map[string]struct{}
	Companies    map[string]struct{}
	Institutions map[string]struct{}
}

// ConversationTurn 一轮问答
type ConversationTurn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// QueryRecord 查询记录，保存在 Redis 中
type QueryRecord struct {
	ID                  string   `json:"id"`
	Query               string   `json:"query"`
	Response            string   `json:"response"`
	DocumentIDs         []string `json:"document_ids"`
	ConversationContext string   `json:"conversation_context,omitempty"`
	CreatedAt           int64    `json:"created_at"`
}
