package entity

import "fmt"

// Label метка классификации, которую возвращает сервис инференса
type Label string

const (
	LabelPneumonia Label = "Pneumonia"
	LabelNormal    Label = "Normal"
)

// DetectionResult результат классификации снимка
type DetectionResult struct {
	Label      Label   `json:"prediction"`
	Confidence float64 `json:"confidence"` // 0..100
}

// Validate проверяет, что ответ сервиса имеет допустимые значения.
func (r DetectionResult) Validate() error {
	switch r.Label {
	case LabelPneumonia, LabelNormal:
	default:
		return fmt.Errorf("unexpected prediction %q", r.Label)
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("confidence %.2f is out of range [0,100]", r.Confidence)
	}
	return nil
}

// HasPneumonia сообщает, найдена ли пневмония
func (r DetectionResult) HasPneumonia() bool {
	return r.Label == LabelPneumonia
}

// Headline возвращает заголовок для показа пользователю
func (r DetectionResult) Headline() string {
	if r.HasPneumonia() {
		return "Pneumonia Detected"
	}
	return "No Pneumonia Detected"
}

// ConfidenceText форматирует уверенность с одним знаком после запятой.
func (r DetectionResult) ConfidenceText() string {
	return fmt.Sprintf("%.1f%% confidence", r.Confidence)
}
