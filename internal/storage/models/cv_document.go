package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

// CVDocument 上传的简历文档及其解析结果
type CVDocument struct {
	ID           string         `gorm:"type:char(36);primaryKey" json:"id"`
	Filename     string         `gorm:"type:varchar(255);not null" json:"filename"`
	FileType     string         `gorm:"type:varchar(16);not null" json:"file_type"`
	FileSize     int64          `json:"file_size"`
	FilePath     string         `gorm:"type:varchar(1024)" json:"file_path"` // MinIO 对象键
	FileMD5      string         `gorm:"type:char(32);index:idx_cv_file_md5" json:"file_md5"`
	Status       string         `gorm:"type:varchar(32);default:'pending';index:idx_cv_status" json:"status"`
	ErrorMessage string         `gorm:"type:text" json:"error_message,omitempty"`
	Provenance   string         `gorm:"type:varchar(32)" json:"provenance,omitempty"`
	ParsedData   datatypes.JSON `gorm:"type:json" json:"parsed_data,omitempty"`
	UploadDate   time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_cv_upload_date" json:"upload_date"`
	UpdatedAt    time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime" json:"updated_at"`
}

func (CVDocument) TableName() string {
	return "cv_documents"
}

// Profile 反序列化解析后的档案，未解析时返回 nil
func (d *CVDocument) Profile() (*types.CandidateProfile, error) {
	if len(d.ParsedData) == 0 {
		return nil, nil
	}
	var p types.CandidateProfile
	if err := json.Unmarshal(d.ParsedData, &p); err != nil {
		return nil, fmt.Errorf("解析文档 %s 的档案数据失败: %w", d.ID, err)
	}
	if p.ID == "" {
		p.ID = d.ID
	}
	return &p, nil
}
