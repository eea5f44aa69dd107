package telegram

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	app "xray-detect/internal/application"
	"xray-detect/internal/domain/entity"
)

const (
	msgStart = `👋 Привет! Я помогаю найти признаки пневмонии на рентгеновских снимках грудной клетки.

📸 Отправьте снимок фото или файлом (PNG, JPG до 10 МБ).

📋 Команды:
/help — справка
/reset — сбросить текущую проверку`

	msgHelp = `ℹ️ Как пользоваться ботом:

1️⃣ Отправьте рентгеновский снимок
2️⃣ Бот передаст его модели
3️⃣ Вы получите результат и уверенность модели

💡 Файлом снимок дойдёт без сжатия.

📋 Команды:
/reset — сбросить текущую проверку`

	msgSendPhoto      = "📸 Пожалуйста, отправьте рентгеновский снимок."
	msgUnknownCommand = "❓ Неизвестная команда. Используйте /help для справки."
	msgProcessing     = "⏳ Анализирую снимок..."
	msgReset          = "🔄 Проверка сброшена. Отправьте новый снимок."
	msgTimeout        = "⚠️ Сервис не ответил вовремя. Попробуйте ещё раз."

	// сколько ждём результата, чтобы ответить в чат
	replyTimeout = 5 * time.Minute
)

// Bot представляет Telegram-бота
type Bot struct {
	api       *tgbotapi.BotAPI
	detection *app.DetectionService
	http      *http.Client
}

// NewBot создаёт нового бота
func NewBot(token string, detection *app.DetectionService) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("Authorized on account %s", api.Self.UserName)

	return &Bot{
		api:       api,
		detection: detection,
		http:      &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Run запускает основной цикл обработки сообщений
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

// handleMessage обрабатывает входящее сообщение
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	// Обработка команд
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	// Обработка фото и файлов
	if ref, ok := fileFromMessage(msg); ok {
		b.handleUpload(ctx, msg.Chat.ID, ref)
		return
	}

	// Текстовое сообщение (не команда)
	b.sendMessage(msg.Chat.ID, msgSendPhoto)
}

// handleCommand обрабатывает команды бота
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.sendMessage(msg.Chat.ID, msgStart)

	case "help":
		b.sendMessage(msg.Chat.ID, msgHelp)

	case "reset", "cancel":
		if _, err := b.detection.Reset(ctx, sessionID(msg.Chat.ID)); err != nil {
			log.Printf("Error resetting session: %v", err)
		}
		b.sendMessage(msg.Chat.ID, msgReset)

	default:
		b.sendMessage(msg.Chat.ID, msgUnknownCommand)
	}
}

// handleUpload передаёт файл в сервис и ждёт результат в отдельной горутине
func (b *Bot) handleUpload(ctx context.Context, chatID int64, ref fileRef) {
	id := sessionID(chatID)
	upload := b.lazyUpload(ref)

	session, err := b.detection.Submit(ctx, id, upload)
	if err != nil {
		if _, ok := entity.KindOf(err); !ok {
			log.Printf("Error submitting upload: %v", err)
		}
		b.sendMessage(chatID, formatSession(session))
		return
	}

	b.sendMessage(chatID, msgProcessing)

	go func() {
		if text, ok := awaitReply(ctx, b.detection, id, session.Generation, replyTimeout); ok {
			b.sendMessage(chatID, text)
		}
	}()
}

// awaitReply ждёт итог попытки и возвращает текст ответа.
// false, если попытку заменил новый снимок или /reset либо бот останавливается.
func awaitReply(ctx context.Context, detection *app.DetectionService, id string, generation uint64, timeout time.Duration) (string, bool) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	final, err := detection.Wait(waitCtx, id)
	if err != nil {
		if ctx.Err() != nil {
			return "", false
		}
		return msgTimeout, true
	}
	if final.Generation != generation {
		return "", false
	}
	return formatSession(final), true
}

// fileRef описание файла из сообщения до скачивания
type fileRef struct {
	FileID      string
	Name        string
	ContentType string
	Size        int64
}

// fileFromMessage достаёт снимок из фото или документа
func fileFromMessage(msg *tgbotapi.Message) (fileRef, bool) {
	if len(msg.Photo) > 0 {
		// Берём файл с максимальным разрешением
		photo := msg.Photo[len(msg.Photo)-1]
		return fileRef{
			FileID:      photo.FileID,
			Name:        photo.FileUniqueID + ".jpg",
			ContentType: "image/jpeg",
			Size:        int64(photo.FileSize),
		}, true
	}
	if msg.Document != nil {
		return fileRef{
			FileID:      msg.Document.FileID,
			Name:        msg.Document.FileName,
			ContentType: msg.Document.MimeType,
			Size:        int64(msg.Document.FileSize),
		}, true
	}
	return fileRef{}, false
}

// lazyUpload скачивает файл при первом чтении: отклонённые файлы не скачиваются
func (b *Bot) lazyUpload(ref fileRef) entity.Upload {
	return newLazyUpload(ref, b.downloadFile)
}

func newLazyUpload(ref fileRef, download func(fileID string) ([]byte, error)) entity.Upload {
	var (
		once sync.Once
		data []byte
		err  error
	)
	fetch := func() ([]byte, error) {
		once.Do(func() {
			data, err = download(ref.FileID)
		})
		return data, err
	}

	upload := entity.NewUploadFromBytes(ref.Name, ref.ContentType, nil)
	upload.Size = ref.Size
	upload.Open = func() (io.ReadCloser, error) {
		b, err := fetch()
		if err != nil {
			return nil, err
		}
		return entity.NewUploadFromBytes(ref.Name, ref.ContentType, b).Open()
	}
	return upload
}

// downloadFile скачивает файл из Telegram
func (b *Bot) downloadFile(fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	fileURL := file.Link(b.api.Token)

	resp, err := b.http.Get(fileURL)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}

// sendMessage отправляет текстовое сообщение
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

func sessionID(chatID int64) string {
	return fmt.Sprintf("tg:%d", chatID)
}

// formatSession текст ответа по состоянию сессии
func formatSession(s entity.Session) string {
	switch s.State {
	case entity.StateSuccess:
		if s.Result == nil {
			break
		}
		icon := "✅"
		if s.Result.HasPneumonia() {
			icon = "🔴"
		}
		return fmt.Sprintf("%s %s\nConfidence Score: %s", icon, s.Result.Headline(), s.Result.ConfidenceText())
	case entity.StateError:
		if s.Error != "" {
			return "⚠️ " + s.Error
		}
		return "⚠️ Failed to process the image. Please try again."
	case entity.StateProcessing:
		return msgProcessing
	}
	return msgSendPhoto
}
