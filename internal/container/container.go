package container

import (
	"time"

	app "xray-detect/internal/application"
	"xray-detect/internal/domain/port"
)

type Container struct {
	Sessions         port.SessionRepository
	DetectionService *app.DetectionService
}

func New(sessionRepo port.SessionRepository, previewer port.Previewer, detector port.Detector, maxUploadBytes int64, timeout time.Duration) *Container {
	validator := app.NewValidator(maxUploadBytes)
	detectionService := app.NewDetectionService(sessionRepo, validator, previewer, detector, timeout)

	return &Container{
		Sessions:         sessionRepo,
		DetectionService: detectionService,
	}
}

// Close останавливает незавершённые попытки
func (c *Container) Close() {
	c.DetectionService.Close()
}
