package entity

// UploadState состояние текущей попытки распознавания
type UploadState string

const (
	StateIdle       UploadState = "idle"       // Ничего не загружено
	StateProcessing UploadState = "processing" // Файл принят, ждём превью и ответ сервиса
	StateSuccess    UploadState = "success"    // Получен результат
	StateError      UploadState = "error"      // Попытка завершилась ошибкой
)

// Session состояние одного пользователя (вкладки браузера, чата, запуска CLI)
type Session struct {
	ID         string           `json:"id"`
	State      UploadState      `json:"state"`
	Preview    string           `json:"preview,omitempty"` // data URI
	Result     *DetectionResult `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
	FileName   string           `json:"file_name,omitempty"`
	Generation uint64           `json:"generation"` // номер последней попытки
}

// NewSession создаёт сессию в начальном состоянии
func NewSession(id string) Session {
	return Session{
		ID:    id,
		State: StateIdle,
	}
}

// Event событие, меняющее состояние сессии
type Event interface {
	event()
}

// Rejected файл не прошёл проверку
type Rejected struct{ Message string }

// Accepted файл принят, начинается новая попытка
type Accepted struct{ FileName string }

// PreviewReady превью построено
type PreviewReady struct {
	Generation uint64
	Preview    string
}

// PreviewFailed файл не удалось прочитать
type PreviewFailed struct {
	Generation uint64
	Message    string
}

// Detected сервис вернул результат
type Detected struct {
	Generation uint64
	Result     DetectionResult
}

// DetectFailed запрос к сервису завершился ошибкой
type DetectFailed struct {
	Generation uint64
	Message    string
}

// Reset сброс сессии пользователем
type Reset struct{}

func (Rejected) event()      {}
func (Accepted) event()      {}
func (PreviewReady) event()  {}
func (PreviewFailed) event() {}
func (Detected) event()      {}
func (DetectFailed) event()  {}
func (Reset) event()         {}

// Apply применяет событие и возвращает новое состояние.
// Второе значение false, если событие устарело или не меняет состояние.
func (s Session) Apply(ev Event) (Session, bool) {
	switch e := ev.(type) {
	case Accepted:
		next := s.cleared()
		next.State = StateProcessing
		next.FileName = e.FileName
		return next, true

	case Rejected:
		next := s.cleared()
		next.State = StateError
		next.Error = e.Message
		return next, true

	case Reset:
		return s.cleared(), true

	case PreviewReady:
		if e.Generation != s.Generation || s.State == StateError || s.State == StateIdle {
			return s, false
		}
		s.Preview = e.Preview
		return s, true

	case Detected:
		if e.Generation != s.Generation || s.State != StateProcessing {
			return s, false
		}
		result := e.Result
		s.Result = &result
		s.Error = ""
		s.State = StateSuccess
		return s, true

	case PreviewFailed:
		return s.fail(e.Generation, e.Message)

	case DetectFailed:
		return s.fail(e.Generation, e.Message)
	}

	return s, false
}

// fail переводит текущую попытку в ошибку. Первая ошибка побеждает.
func (s Session) fail(generation uint64, message string) (Session, bool) {
	if generation != s.Generation {
		return s, false
	}
	if s.State != StateProcessing && s.State != StateSuccess {
		return s, false
	}
	s.State = StateError
	s.Result = nil
	s.Error = message
	return s, true
}

// cleared начинает новое поколение с пустыми полями
func (s Session) cleared() Session {
	return Session{
		ID:         s.ID,
		State:      StateIdle,
		Generation: s.Generation + 1,
	}
}

// Terminal сообщает, что попытка завершена
func (s Session) Terminal() bool {
	return s.State == StateSuccess || s.State == StateError
}
