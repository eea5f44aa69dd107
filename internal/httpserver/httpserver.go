package httpserver

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	app "xray-detect/internal/application"
	"xray-detect/internal/domain/entity"
)

const (
	cookieName = "session_id"

	// запас на служебные части multipart поверх лимита файла
	formOverhead = 1 << 20
	wsWriteWait  = 10 * time.Second
)

//go:embed web/index.html
var indexHTML []byte

// Server веб-интерфейс: страница загрузки и JSON API над DetectionService
type Server struct {
	detection      *app.DetectionService
	maxUploadBytes int64
	upgrader       websocket.Upgrader
}

// New создаёт веб-сервер
func New(detection *app.DetectionService, maxUploadBytes int64) *Server {
	if maxUploadBytes <= 0 {
		maxUploadBytes = app.DefaultMaxUploadSize
	}
	return &Server{
		detection:      detection,
		maxUploadBytes: maxUploadBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler возвращает маршруты сервера
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /{$}", s.index)
	mux.HandleFunc("GET /api/session", s.getSession)
	mux.HandleFunc("DELETE /api/session", s.deleteSession)
	mux.HandleFunc("POST /api/upload", s.upload)
	mux.HandleFunc("POST /api/reset", s.reset)
	mux.HandleFunc("GET /api/session/ws", s.watch)
	return mux
}

// Run слушает addr до отмены ctx
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	s.sessionID(w, r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.detection.Snapshot(r.Context(), s.sessionID(w, r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.detection.Forget(r.Context(), s.sessionID(w, r)); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: cookieName, Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	session, err := s.detection.Reset(r.Context(), s.sessionID(w, r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)

	limit := s.maxUploadBytes + formOverhead
	if r.ContentLength > limit {
		s.rejectTooLarge(w, r, id, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, limit)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.rejectTooLarge(w, r, id, err)
			return
		}
		writeError(w, http.StatusBadRequest, errors.New("multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	upload := entity.NewUploadFromBytes(header.Filename, header.Header.Get("Content-Type"), data)
	upload.Size = header.Size

	session, err := s.detection.Submit(r.Context(), id, upload)
	if err != nil {
		if _, ok := entity.KindOf(err); ok {
			writeJSON(w, http.StatusUnprocessableEntity, session)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, session)
}

// rejectTooLarge отклоняет тело, которое не уместилось в лимит
func (s *Server) rejectTooLarge(w http.ResponseWriter, r *http.Request, id string, cause error) {
	session, err := s.detection.RejectTooLarge(r.Context(), id, cause)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusRequestEntityTooLarge, session)
}

// watch отправляет снимок сессии по WebSocket после каждого перехода
func (s *Server) watch(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.detection.Subscribe(id)
	defer unsubscribe()

	// Читаем входящие кадры только чтобы заметить закрытие соединения
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	session, err := s.detection.Snapshot(r.Context(), id)
	if err != nil {
		return
	}
	if err := writeWS(conn, session); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case session := <-updates:
			if err := writeWS(conn, session); err != nil {
				return
			}
		}
	}
}

// sessionID берёт идентификатор из cookie или выдаёт новый
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(cookieName); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return "web:" + c.Value
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return "web:" + id
}

func writeWS(conn *websocket.Conn, session entity.Session) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(session)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
