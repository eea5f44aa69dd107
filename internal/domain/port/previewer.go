package port

import (
	"context"

	"xray-detect/internal/domain/entity"
)

// Previewer строит локальное превью загруженного файла
type Previewer interface {
	// Preview читает файл и возвращает data URI для показа
	Preview(ctx context.Context, upload entity.Upload) (string, error)
}
