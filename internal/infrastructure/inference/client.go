package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"xray-detect/internal/domain/entity"
	"xray-detect/internal/domain/port"
)

// DefaultEndpoint адрес сервиса инференса по умолчанию
const DefaultEndpoint = "http://localhost:8000/predict"

// FormField имя поля multipart-формы с файлом
const FormField = "file"

// StatusError ответ сервиса с кодом не из 2xx. Body попадает в лог, не пользователю.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, body)
}

// predictResponse тело успешного ответа /predict
type predictResponse struct {
	Prediction *string  `json:"prediction"`
	Confidence *float64 `json:"confidence"`
}

// Client отправляет снимки в сервис инференса
type Client struct {
	endpoint string
	client   *http.Client
}

// New создаёт клиента. Пустой endpoint заменяется на DefaultEndpoint.
// Таймаут не задаётся: время попытки ограничивает контекст.
func New(endpoint string, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q must be http or https", endpoint)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{endpoint: u.String(), client: httpClient}, nil
}

// Endpoint возвращает адрес сервиса
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Detect отправляет файл полем "file" и разбирает ответ сервиса
func (c *Client) Detect(ctx context.Context, upload entity.Upload) (*entity.DetectionResult, error) {
	body, contentType, err := encodeForm(upload)
	if err != nil {
		return nil, entity.NewUploadError(entity.ErrFileRead, entity.MsgFileRead, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, networkError(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
		return nil, entity.NewUploadError(entity.ErrHTTPStatus, fmt.Sprintf("HTTP error! status: %d", resp.StatusCode), statusErr)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, networkError(fmt.Errorf("decode response: %w", err))
	}
	if out.Prediction == nil || out.Confidence == nil {
		return nil, networkError(errors.New("decode response: prediction and confidence are required"))
	}

	result := &entity.DetectionResult{
		Label:      entity.Label(*out.Prediction),
		Confidence: *out.Confidence,
	}
	if err := result.Validate(); err != nil {
		return nil, networkError(fmt.Errorf("decode response: %w", err))
	}

	return result, nil
}

// encodeForm собирает multipart-тело так же, как браузерный FormData:
// у части с файлом остаются имя файла и его MIME-тип.
func encodeForm(upload entity.Upload) (io.Reader, string, error) {
	data, err := upload.ReadAll()
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	name := upload.Name
	if name == "" {
		name = "blob"
	}
	ct := upload.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FormField, quoteEscaper.Replace(name)))
	h.Set("Content-Type", ct)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}

	return &buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func networkError(err error) error {
	msg := err.Error()
	if msg == "" {
		msg = entity.MsgProcessingFailed
	}
	return entity.NewUploadError(entity.ErrNetworkOrParse, msg, err)
}

// Проверка реализации интерфейса
var _ port.Detector = (*Client)(nil)
