package storage

import "time"

// EventTypeCVUploaded 简历上传事件
const EventTypeCVUploaded = "cv.uploaded"

// CVUploadMessage 简历上传后投递给解析消费者的消息
type CVUploadMessage struct {
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	FileType   string    `json:"file_type"`
	FilePath   string    `json:"file_path"` // MinIO 对象键
	FileMD5    string    `json:"file_md5,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}
