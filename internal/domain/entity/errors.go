package entity

import (
	"errors"
	"fmt"
)

// ErrorKind категория ошибки попытки
type ErrorKind string

const (
	ErrInvalidFileType ErrorKind = "invalid_file_type"
	ErrFileTooLarge    ErrorKind = "file_too_large"
	ErrFileRead        ErrorKind = "file_read_failure"
	ErrHTTPStatus      ErrorKind = "http_status_failure"
	ErrNetworkOrParse  ErrorKind = "network_or_parse_failure"
)

// Тексты, которые видит пользователь
const (
	MsgInvalidFileType  = "Please upload an image file"
	MsgFileTooLarge     = "File size should be less than 10MB"
	MsgFileRead         = "Failed to read the image file"
	MsgProcessingFailed = "Failed to process image"
)

// FileTooLargeMessage текст отказа по размеру для заданного лимита.
// Для лимита 10 МиБ совпадает с MsgFileTooLarge.
func FileTooLargeMessage(limit int64) string {
	const kib, mib = 1024, 1024 * 1024
	switch {
	case limit > 0 && limit%mib == 0:
		return fmt.Sprintf("File size should be less than %dMB", limit/mib)
	case limit > 0 && limit%kib == 0:
		return fmt.Sprintf("File size should be less than %dKB", limit/kib)
	}
	return fmt.Sprintf("File size should be less than %d bytes", limit)
}

// UploadError ошибка, показываемая пользователю как есть
type UploadError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewUploadError создаёт ошибку заданной категории
func NewUploadError(kind ErrorKind, message string, err error) *UploadError {
	return &UploadError{Kind: kind, Message: message, Err: err}
}

func (e *UploadError) Error() string {
	return e.Message
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// KindOf возвращает категорию ошибки, если она есть
func KindOf(err error) (ErrorKind, bool) {
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue.Kind, true
	}
	return "", false
}

// UserMessage возвращает текст ошибки для пользователя.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ue *UploadError
	if errors.As(err, &ue) && ue.Message != "" {
		return ue.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return MsgProcessingFailed
}
