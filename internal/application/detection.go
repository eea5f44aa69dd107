package app

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"xray-detect/internal/domain/entity"
	"xray-detect/internal/domain/port"
)

// attempt задачи одной попытки: превью и запрос к сервису
type attempt struct {
	generation uint64
	cancel     context.CancelFunc
	pending    int
}

// DetectionService управляет сессиями: принимает файлы, запускает превью и
// распознавание и сводит их результаты в состояние сессии.
type DetectionService struct {
	repo      port.SessionRepository
	validator *Validator
	previewer port.Previewer
	detector  port.Detector
	timeout   time.Duration

	// mu сериализует все изменения сессий: чтение, Apply, сохранение, рассылка
	mu       sync.Mutex
	attempts map[string]*attempt
	subs     map[string]map[int]chan entity.Session
	nextSub  int
	wg       sync.WaitGroup
}

// NewDetectionService создаёт сервис. timeout ограничивает задачи одной попытки, 0 означает без ограничения.
func NewDetectionService(repo port.SessionRepository, validator *Validator, previewer port.Previewer, detector port.Detector, timeout time.Duration) *DetectionService {
	if validator == nil {
		validator = NewValidator(0)
	}
	return &DetectionService{
		repo:      repo,
		validator: validator,
		previewer: previewer,
		detector:  detector,
		timeout:   timeout,
		attempts:  make(map[string]*attempt),
		subs:      make(map[string]map[int]chan entity.Session),
	}
}

// Submit проверяет файл и запускает новую попытку.
// Возвращает состояние сразу после перехода; при отказе валидатора ещё и ошибку.
func (s *DetectionService) Submit(ctx context.Context, sessionID string, upload entity.Upload) (entity.Session, error) {
	if s.detector == nil {
		return entity.Session{}, errors.New("detector is not configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return entity.Session{}, err
	}

	if verr := s.validator.Validate(upload); verr != nil {
		session, _ = session.Apply(entity.Rejected{Message: entity.UserMessage(verr)})
		if err := s.commit(ctx, session); err != nil {
			return entity.Session{}, err
		}
		return session, verr
	}

	session, _ = session.Apply(entity.Accepted{FileName: upload.Name})
	if err := s.commit(ctx, session); err != nil {
		return entity.Session{}, err
	}

	// Задачи живут дольше запроса, который их запустил
	taskCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if s.timeout > 0 {
		taskCtx, cancel = context.WithTimeout(taskCtx, s.timeout)
	} else {
		taskCtx, cancel = context.WithCancel(taskCtx)
	}

	a := &attempt{generation: session.Generation, cancel: cancel, pending: 2}
	s.attempts[sessionID] = a

	s.wg.Add(2)
	go s.runPreview(taskCtx, sessionID, a, upload)
	go s.runDetect(taskCtx, sessionID, a, upload)

	return session, nil
}

// Reject записывает отказ, когда файл отклонён до построения Upload
// (например, тело запроса превысило лимит). Незавершённая попытка отменяется.
func (s *DetectionService) Reject(ctx context.Context, sessionID string, reason error) (entity.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return entity.Session{}, err
	}

	session, _ = session.Apply(entity.Rejected{Message: entity.UserMessage(reason)})
	if err := s.commit(ctx, session); err != nil {
		return entity.Session{}, err
	}
	return session, nil
}

// RejectTooLarge записывает отказ по размеру с текстом под лимит валидатора
func (s *DetectionService) RejectTooLarge(ctx context.Context, sessionID string, cause error) (entity.Session, error) {
	return s.Reject(ctx, sessionID, s.validator.TooLarge(cause))
}

// Reset сбрасывает сессию и отменяет незавершённые задачи
func (s *DetectionService) Reset(ctx context.Context, sessionID string) (entity.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return entity.Session{}, err
	}

	session, _ = session.Apply(entity.Reset{})
	if err := s.commit(ctx, session); err != nil {
		return entity.Session{}, err
	}
	return session, nil
}

// Forget отменяет задачи и удаляет сессию из хранилища
func (s *DetectionService) Forget(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelAttempt(sessionID)
	return s.repo.Delete(ctx, sessionID)
}

// Snapshot возвращает текущее состояние сессии
func (s *DetectionService) Snapshot(ctx context.Context, sessionID string) (entity.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Get(ctx, sessionID)
}

// Subscribe подписывает на изменения сессии. В канале всегда последнее состояние:
// если читатель не успевает, промежуточные снимки отбрасываются.
func (s *DetectionService) Subscribe(sessionID string) (<-chan entity.Session, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan entity.Session, 1)
	id := s.nextSub
	s.nextSub++

	if s.subs[sessionID] == nil {
		s.subs[sessionID] = make(map[int]chan entity.Session)
	}
	s.subs[sessionID][id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[sessionID], id)
			if len(s.subs[sessionID]) == 0 {
				delete(s.subs, sessionID)
			}
		})
	}
	return ch, unsubscribe
}

// Wait ждёт, пока сессия выйдет из состояния processing
func (s *DetectionService) Wait(ctx context.Context, sessionID string) (entity.Session, error) {
	updates, unsubscribe := s.Subscribe(sessionID)
	defer unsubscribe()

	session, err := s.Snapshot(ctx, sessionID)
	if err != nil {
		return entity.Session{}, err
	}

	for session.State == entity.StateProcessing {
		select {
		case <-ctx.Done():
			return session, ctx.Err()
		case session = <-updates:
		}
	}
	return session, nil
}

// Close отменяет все попытки и ждёт завершения задач
func (s *DetectionService) Close() {
	s.mu.Lock()
	for id := range s.attempts {
		s.cancelAttempt(id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *DetectionService) runPreview(ctx context.Context, sessionID string, a *attempt, upload entity.Upload) {
	defer s.wg.Done()
	defer s.finish(sessionID, a)

	if s.previewer == nil {
		return
	}

	preview, err := s.previewer.Preview(ctx, upload)
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return
	}
	if err != nil {
		log.Printf("session %s gen %d: preview failed: %s", sessionID, a.generation, errorDetail(err))
		s.apply(sessionID, a, entity.PreviewFailed{Generation: a.generation, Message: entity.MsgFileRead})
		return
	}

	s.apply(sessionID, a, entity.PreviewReady{Generation: a.generation, Preview: preview})
}

func (s *DetectionService) runDetect(ctx context.Context, sessionID string, a *attempt, upload entity.Upload) {
	defer s.wg.Done()
	defer s.finish(sessionID, a)

	result, err := s.detector.Detect(ctx, upload)
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return
	}
	if err != nil {
		log.Printf("session %s gen %d: detection failed: %s", sessionID, a.generation, errorDetail(err))
		s.apply(sessionID, a, entity.DetectFailed{Generation: a.generation, Message: entity.UserMessage(err)})
		return
	}

	s.apply(sessionID, a, entity.Detected{Generation: a.generation, Result: *result})
}

// apply применяет событие задачи к сохранённой сессии.
// Событие попытки, которую уже заменили или отменили, отбрасывается: после Forget
// номера поколений начинаются заново и одного номера для проверки мало.
func (s *DetectionService) apply(sessionID string, a *attempt, ev entity.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attempts[sessionID] != a {
		return
	}

	ctx := context.Background()
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		log.Printf("session %s: load failed: %v", sessionID, err)
		return
	}

	next, ok := session.Apply(ev)
	if !ok {
		return
	}
	if err := s.repo.Save(ctx, next); err != nil {
		log.Printf("session %s: save failed: %v", sessionID, err)
		return
	}
	s.publish(next)
}

// finish отмечает завершение задачи; после последней освобождает контекст попытки
func (s *DetectionService) finish(sessionID string, a *attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attempts[sessionID] != a {
		return
	}
	a.pending--
	if a.pending <= 0 {
		a.cancel()
		delete(s.attempts, sessionID)
	}
}

// commit сохраняет состояние, начатое пользователем: старая попытка отменяется.
// Вызывается под s.mu.
func (s *DetectionService) commit(ctx context.Context, session entity.Session) error {
	s.cancelAttempt(session.ID)
	if err := s.repo.Save(ctx, session); err != nil {
		return err
	}
	s.publish(session)
	return nil
}

// cancelAttempt вызывается под s.mu
func (s *DetectionService) cancelAttempt(sessionID string) {
	if a, ok := s.attempts[sessionID]; ok {
		a.cancel()
		delete(s.attempts, sessionID)
	}
}

// publish рассылает снимок подписчикам. Вызывается под s.mu.
func (s *DetectionService) publish(session entity.Session) {
	for _, ch := range s.subs[session.ID] {
		select {
		case ch <- session:
		default:
			// заменяем непрочитанный снимок последним
			select {
			case <-ch:
			default:
			}
			ch <- session
		}
	}
}

// errorDetail текст ошибки для лога вместе с причиной, которую пользователь не видит
func errorDetail(err error) string {
	detail := err.Error()
	if cause := errors.Unwrap(err); cause != nil && cause.Error() != detail {
		detail += ": " + cause.Error()
	}
	return detail
}
