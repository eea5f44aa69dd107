package app

import (
	"strings"

	"xray-detect/internal/domain/entity"
)

// DefaultMaxUploadSize ограничение размера файла (10 МиБ)
const DefaultMaxUploadSize int64 = 10 * 1024 * 1024

// Validator проверяет файл до начала обработки
type Validator struct {
	MaxSize int64
}

// NewValidator создаёт валидатор. maxSize <= 0 означает значение по умолчанию.
func NewValidator(maxSize int64) *Validator {
	if maxSize <= 0 {
		maxSize = DefaultMaxUploadSize
	}
	return &Validator{MaxSize: maxSize}
}

// Validate проверяет размер и MIME-тип. Размер проверяется первым:
// слишком большой файл отклоняется по размеру при любом типе.
func (v *Validator) Validate(upload entity.Upload) error {
	if upload.Size > v.MaxSize {
		return v.TooLarge(nil)
	}
	if !strings.HasPrefix(upload.ContentType, "image/") {
		return entity.NewUploadError(entity.ErrInvalidFileType, entity.MsgInvalidFileType, nil)
	}
	return nil
}

// TooLarge ошибка превышения лимита с текстом под текущий лимит
func (v *Validator) TooLarge(cause error) error {
	return entity.NewUploadError(entity.ErrFileTooLarge, entity.FileTooLargeMessage(v.MaxSize), cause)
}
