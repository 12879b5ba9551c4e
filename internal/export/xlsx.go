package export

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mdad-elec/cv-analysis-system/internal/types"
	"github.com/mdad-elec/cv-analysis-system/pkg/utils"
)

// SheetName 导出工作表名称
const SheetName = "Candidates"

// Headers 导出列，每份档案一行
var Headers = []string{
	"Document ID",
	"Name",
	"Email",
	"Phone",
	"Location",
	"LinkedIn",
	"GitHub",
	"Latest Position",
	"Latest Company",
	"Companies",
	"Education",
	"Skills",
	"Certifications",
}

var colWidths = map[string]float64{
	"A": 38, "B": 22, "C": 30, "D": 18, "E": 20, "F": 30, "G": 30,
	"H": 26, "I": 26, "J": 40, "K": 48, "L": 60, "M": 40,
}

// ProfilesXLSX 将档案导出为 XLSX 工作簿
func ProfilesXLSX(profiles []*types.CandidateProfile) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("重命名工作表失败: %w", err)
	}

	for i, h := range Headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return nil, err
		}
	}

	row := 2
	for _, p := range profiles {
		if p == nil {
			continue
		}
		for i, v := range profileRow(p) {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			if err := f.SetCellValue(SheetName, cell, v); err != nil {
				return nil, err
			}
		}
		row++
	}

	for col, w := range colWidths {
		_ = f.SetColWidth(SheetName, col, col, w)
	}
	_ = f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("写出xlsx失败: %w", err)
	}
	return buf.Bytes(), nil
}

func profileRow(p *types.CandidateProfile) []string {
	info := p.PersonalInfo
	var position, company string
	if len(p.WorkExperience) > 0 {
		position = p.WorkExperience[0].Position
		company = p.WorkExperience[0].Company
	}

	companies := make([]string, 0, len(p.WorkExperience))
	for _, w := range p.WorkExperience {
		if w.Company != "" {
			companies = append(companies, w.Company)
		}
	}

	education := make([]string, 0, len(p.Education))
	for _, e := range p.Education {
		parts := []string{}
		for _, s := range []*string{e.Degree, e.FieldOfStudy, e.Institution} {
			if v := utils.Deref(s); v != "" {
				parts = append(parts, v)
			}
		}
		if len(parts) > 0 {
			education = append(education, strings.Join(parts, ", "))
		}
	}

	skills := make([]string, 0, len(p.Skills))
	for _, s := range p.Skills {
		skills = append(skills, s.Name)
	}

	certs := make([]string, 0, len(p.Certifications))
	for _, c := range p.Certifications {
		certs = append(certs, c.Name)
	}

	return []string{
		p.ID,
		utils.Deref(info.Name),
		utils.Deref(info.Email),
		utils.Deref(info.Phone),
		utils.Deref(info.Location),
		utils.Deref(info.LinkedIn),
		utils.Deref(info.GitHub),
		position,
		company,
		strings.Join(companies, "; "),
		strings.Join(education, "; "),
		strings.Join(skills, ", "),
		strings.Join(certs, "; "),
	}
}
