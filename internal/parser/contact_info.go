package parser

import (
	"regexp"
	"strings"

	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

var (
	emailPattern    = regexp.MustCompile(`\b([a-zA-Z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,})\b`)
	phonePattern    = regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?(?:\(?\d{3}\)?[\s.-]?)?\d{3}[\s.-]?\d{4}`)
	linkedinPattern = regexp.MustCompile(`(?:linkedin\.com/in/|linkedin\.com/profile/|linkedin:)[\w\-./]+`)
	githubPattern   = regexp.MustCompile(`(?:github\.com/|github:)[\w\-]+`)
)

// ExtractContactInfo 用正则预填联系方式，模型未给出对应字段时作为兜底
func ExtractContactInfo(text string) types.PersonalInfo {
	var info types.PersonalInfo
	if m := emailPattern.FindString(text); m != "" {
		info.Email = &m
	}
	if m := phonePattern.FindString(text); m != "" {
		info.Phone = &m
	}

	// 链接统一在小写文本上匹配
	lower := strings.ToLower(text)
	if m := linkedinPattern.FindString(lower); m != "" {
		info.LinkedIn = &m
	}
	if m := githubPattern.FindString(lower); m != "" {
		info.GitHub = &m
	}
	return info
}
