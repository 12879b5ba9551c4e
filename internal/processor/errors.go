package processor

import (
	"errors"
	"fmt"
)

var (
	// ErrTextExtractionFailed 没有从文档中恢复出任何文本
	ErrTextExtractionFailed = errors.New("Failed to extract text from document")
	ErrDocumentDownload     = errors.New("下载原始文件失败")
	ErrProfileExtraction    = errors.New("结构化抽取失败")
	ErrDatabaseFailed       = errors.New("数据库操作失败")
	ErrDocumentBusy         = errors.New("文档正在被其他消费者处理")
	ErrDuplicateContent     = errors.New("duplicate content detected")
	ErrStorageNotInit       = errors.New("storage is not initialized")
)

// CVProcessError 带文档ID和操作名的处理错误
type CVProcessError struct {
	DocumentID string
	Op         string
	BaseErr    error
	Detail     string
}

func (e *CVProcessError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, 文档:%s): %s", e.BaseErr, e.Op, e.DocumentID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, 文档:%s)", e.BaseErr, e.Op, e.DocumentID)
}

func (e *CVProcessError) Unwrap() error {
	return e.BaseErr
}

// Is 支持 errors.Is 比较
func (e *CVProcessError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// Reason 写入文档记录的失败原因
func (e *CVProcessError) Reason() string {
	if errors.Is(e.BaseErr, ErrTextExtractionFailed) {
		return ErrTextExtractionFailed.Error()
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.BaseErr, e.Detail)
	}
	return e.BaseErr.Error()
}

func NewExtractionError(documentID, detail string) error {
	return &CVProcessError{DocumentID: documentID, Op: "extract", BaseErr: ErrTextExtractionFailed, Detail: detail}
}

func NewDownloadError(documentID, detail string) error {
	return &CVProcessError{DocumentID: documentID, Op: "download", BaseErr: ErrDocumentDownload, Detail: detail}
}

func NewProfileError(documentID string, err error) error {
	return &CVProcessError{DocumentID: documentID, Op: "enhance", BaseErr: fmt.Errorf("%w: %w", ErrProfileExtraction, err)}
}

func NewDatabaseError(documentID, detail string) error {
	return &CVProcessError{DocumentID: documentID, Op: "database", BaseErr: ErrDatabaseFailed, Detail: detail}
}

// failureReason 取出适合展示给用户的失败原因
func failureReason(err error) string {
	var perr *CVProcessError
	if errors.As(err, &perr) {
		return perr.Reason()
	}
	return err.Error()
}
