package port

import (
	"context"

	"xray-detect/internal/domain/entity"
)

// Detector клиент сервиса инференса
type Detector interface {
	// Detect отправляет файл на классификацию и возвращает результат
	Detect(ctx context.Context, upload entity.Upload) (*entity.DetectionResult, error)
}
