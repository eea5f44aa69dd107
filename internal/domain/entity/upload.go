package entity

import (
	"bytes"
	"io"
)

// Upload файл, выбранный пользователем
type Upload struct {
	Name        string // имя файла
	ContentType string // заявленный MIME-тип
	Size        int64  // размер в байтах
	// Open открывает содержимое файла. Может вызываться несколько раз:
	// превью и запрос к сервису читают файл независимо.
	Open func() (io.ReadCloser, error)
}

// NewUploadFromBytes создаёт Upload поверх данных в памяти
func NewUploadFromBytes(name, contentType string, data []byte) Upload {
	return Upload{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// ReadAll читает содержимое файла целиком
func (u Upload) ReadAll() ([]byte, error) {
	if u.Open == nil {
		return nil, io.ErrUnexpectedEOF
	}
	rc, err := u.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
