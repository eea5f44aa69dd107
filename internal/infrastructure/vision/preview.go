package vision

import (
	"context"
	"encoding/base64"

	"xray-detect/internal/domain/entity"
	"xray-detect/internal/domain/port"
)

// DefaultMaxSide максимальная сторона превью по умолчанию
const DefaultMaxSide = 512

// Previewer строит data URI для показа загруженного снимка
type Previewer struct {
	MaxSide int
}

// NewPreviewer создаёт построитель превью. maxSide <= 0 означает значение по умолчанию.
func NewPreviewer(maxSide int) *Previewer {
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	return &Previewer{MaxSide: maxSide}
}

// Preview читает файл и возвращает уменьшенную копию в JPEG.
// Если изображение не декодируется, в data URI попадает исходный файл.
func (p *Previewer) Preview(ctx context.Context, upload entity.Upload) (string, error) {
	data, err := upload.ReadAll()
	if err != nil {
		return "", entity.NewUploadError(entity.ErrFileRead, entity.MsgFileRead, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if thumb, err := thumbnail(data, p.MaxSide); err == nil {
		return DataURI("image/jpeg", thumb), nil
	}

	mime := upload.ContentType
	if mime == "" {
		mime = "application/octet-stream"
	}
	return DataURI(mime, data), nil
}

// DataURI кодирует данные в data:<mime>;base64,<payload>
func DataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Проверка реализации интерфейса
var _ port.Previewer = (*Previewer)(nil)
