package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xray-detect/internal/domain/entity"
	"xray-detect/internal/infrastructure/storage"
)

type fakePreviewer struct {
	err error
}

func (p *fakePreviewer) Preview(ctx context.Context, upload entity.Upload) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return "data:" + upload.ContentType + ";base64,AA==", nil
}

// fakeDetector отвечает по имени файла; для имён из gates ждёт сигнала
type fakeDetector struct {
	mu      sync.Mutex
	results map[string]*entity.DetectionResult
	errs    map[string]error
	gates   map[string]chan struct{}
	calls   int
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{
		results: make(map[string]*entity.DetectionResult),
		errs:    make(map[string]error),
		gates:   make(map[string]chan struct{}),
	}
}

func (d *fakeDetector) Detect(ctx context.Context, upload entity.Upload) (*entity.DetectionResult, error) {
	d.mu.Lock()
	d.calls++
	gate := d.gates[upload.Name]
	result, err := d.results[upload.Name], d.errs[upload.Name]
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func newTestService(t *testing.T, previewer *fakePreviewer, detector *fakeDetector) *DetectionService {
	t.Helper()
	svc := NewDetectionService(storage.NewMemorySessionRepository(), NewValidator(0), previewer, detector, 0)
	t.Cleanup(svc.Close)
	return svc
}

func waitTerminal(t *testing.T, svc *DetectionService, id string) entity.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	return s
}

func pngUpload(name string) entity.Upload {
	return entity.NewUploadFromBytes(name, "image/png", []byte("fake png"))
}

func TestDetectionService_RejectsInvalidType(t *testing.T) {
	det := newFakeDetector()
	svc := newTestService(t, &fakePreviewer{}, det)
	ctx := context.Background()

	s, err := svc.Submit(ctx, "s1", entity.NewUploadFromBytes("a.pdf", "application/pdf", []byte("x")))
	require.Error(t, err)
	require.NotEqual(t, entity.StateProcessing, s.State)
	require.Equal(t, "Please upload an image file", s.Error)
	require.Nil(t, s.Result)
	require.Equal(t, 0, det.calls)
}

func TestDetectionService_RejectsLargeFile(t *testing.T) {
	det := newFakeDetector()
	svc := newTestService(t, &fakePreviewer{}, det)

	upload := entity.Upload{Name: "big.png", ContentType: "image/png", Size: 10*1024*1024 + 1}
	s, err := svc.Submit(context.Background(), "s1", upload)
	require.Error(t, err)
	require.Equal(t, "File size should be less than 10MB", s.Error)
	require.Equal(t, entity.StateError, s.State)
	require.Equal(t, 0, det.calls)
}

func TestDetectionService_Success(t *testing.T) {
	det := newFakeDetector()
	det.results["xray.png"] = &entity.DetectionResult{Label: entity.LabelPneumonia, Confidence: 87.3}
	det.gates["xray.png"] = make(chan struct{})
	svc := newTestService(t, &fakePreviewer{}, det)

	s, err := svc.Submit(context.Background(), "s1", pngUpload("xray.png"))
	require.NoError(t, err)
	require.Equal(t, entity.StateProcessing, s.State)

	close(det.gates["xray.png"])
	s = waitTerminal(t, svc, "s1")
	require.Equal(t, entity.StateSuccess, s.State)
	require.NotNil(t, s.Result)
	require.Equal(t, entity.LabelPneumonia, s.Result.Label)
	require.InDelta(t, 87.3, s.Result.Confidence, 1e-9)
	require.Empty(t, s.Error)
}

func TestDetectionService_HTTPFailure(t *testing.T) {
	det := newFakeDetector()
	det.errs["xray.png"] = entity.NewUploadError(entity.ErrHTTPStatus, "HTTP error! status: 500", nil)
	svc := newTestService(t, &fakePreviewer{}, det)

	_, err := svc.Submit(context.Background(), "s1", pngUpload("xray.png"))
	require.NoError(t, err)

	s := waitTerminal(t, svc, "s1")
	require.Equal(t, entity.StateError, s.State)
	require.Contains(t, s.Error, "500")
	require.Nil(t, s.Result)
}

func TestDetectionService_NetworkFailureMessage(t *testing.T) {
	det := newFakeDetector()
	det.errs["xray.png"] = errors.New("connection refused")
	svc := newTestService(t, &fakePreviewer{}, det)

	_, err := svc.Submit(context.Background(), "s1", pngUpload("xray.png"))
	require.NoError(t, err)

	s := waitTerminal(t, svc, "s1")
	require.Equal(t, entity.StateError, s.State)
	require.Equal(t, "connection refused", s.Error)
}

func TestDetectionService_PreviewFailure(t *testing.T) {
	det := newFakeDetector()
	det.results["xray.png"] = &entity.DetectionResult{Label: entity.LabelNormal, Confidence: 90}
	det.gates["xray.png"] = make(chan struct{})
	svc := newTestService(t, &fakePreviewer{err: errors.New("disk error")}, det)

	_, err := svc.Submit(context.Background(), "s1", pngUpload("xray.png"))
	require.NoError(t, err)

	s := waitTerminal(t, svc, "s1")
	require.Equal(t, entity.StateError, s.State)
	require.Equal(t, "Failed to read the image file", s.Error)

	// поздний успешный ответ не перекрывает ошибку
	close(det.gates["xray.png"])
	svc.Close()
	s, err = svc.Snapshot(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, entity.StateError, s.State)
	require.Nil(t, s.Result)
}

func TestDetectionService_ResetAndResubmit(t *testing.T) {
	det := newFakeDetector()
	det.results["xray.png"] = &entity.DetectionResult{Label: entity.LabelNormal, Confidence: 75}
	svc := newTestService(t, &fakePreviewer{}, det)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "s1", pngUpload("xray.png"))
	require.NoError(t, err)
	require.Equal(t, entity.StateSuccess, waitTerminal(t, svc, "s1").State)

	s, err := svc.Reset(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, entity.StateIdle, s.State)
	require.Empty(t, s.Preview)
	require.Empty(t, s.Error)
	require.Nil(t, s.Result)

	// тот же файл можно отправить снова
	_, err = svc.Submit(ctx, "s1", pngUpload("xray.png"))
	require.NoError(t, err)
	s = waitTerminal(t, svc, "s1")
	require.Equal(t, entity.StateSuccess, s.State)
	require.Equal(t, 2, det.calls)
}

func TestDetectionService_LatestUploadWins(t *testing.T) {
	det := newFakeDetector()
	det.results["first.png"] = &entity.DetectionResult{Label: entity.LabelPneumonia, Confidence: 99}
	det.results["second.png"] = &entity.DetectionResult{Label: entity.LabelNormal, Confidence: 64.2}
	det.gates["first.png"] = make(chan struct{})
	svc := newTestService(t, &fakePreviewer{}, det)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "s1", pngUpload("first.png"))
	require.NoError(t, err)
	_, err = svc.Submit(ctx, "s1", pngUpload("second.png"))
	require.NoError(t, err)

	s := waitTerminal(t, svc, "s1")
	require.Equal(t, entity.StateSuccess, s.State)
	require.Equal(t, entity.LabelNormal, s.Result.Label)

	// ответ на первую загрузку приходит последним и отбрасывается
	close(det.gates["first.png"])
	svc.Close()

	s, err = svc.Snapshot(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "second.png", s.FileName)
	require.Equal(t, entity.LabelNormal, s.Result.Label)
	require.InDelta(t, 64.2, s.Result.Confidence, 1e-9)
}

func TestDetectionService_ResetDiscardsInFlight(t *testing.T) {
	det := newFakeDetector()
	det.results["xray.png"] = &entity.DetectionResult{Label: entity.LabelPneumonia, Confidence: 80}
	det.gates["xray.png"] = make(chan struct{})
	svc := newTestService(t, &fakePreviewer{}, det)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "s1", pngUpload("xray.png"))
	require.NoError(t, err)
	_, err = svc.Reset(ctx, "s1")
	require.NoError(t, err)

	close(det.gates["xray.png"])
	svc.Close()

	s, err := svc.Snapshot(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, entity.StateIdle, s.State)
	require.Nil(t, s.Result)
}

func TestDetectionService_SessionsAreIndependent(t *testing.T) {
	det := newFakeDetector()
	det.results["a.png"] = &entity.DetectionResult{Label: entity.LabelPneumonia, Confidence: 80}
	det.results["b.png"] = &entity.DetectionResult{Label: entity.LabelNormal, Confidence: 60}
	svc := newTestService(t, &fakePreviewer{}, det)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "s1", pngUpload("a.png"))
	require.NoError(t, err)
	_, err = svc.Submit(ctx, "s2", pngUpload("b.png"))
	require.NoError(t, err)

	require.Equal(t, entity.LabelPneumonia, waitTerminal(t, svc, "s1").Result.Label)
	require.Equal(t, entity.LabelNormal, waitTerminal(t, svc, "s2").Result.Label)
}

func TestDetectionService_SubscribeReceivesTransitions(t *testing.T) {
	det := newFakeDetector()
	det.results["xray.png"] = &entity.DetectionResult{Label: entity.LabelNormal, Confidence: 70}
	det.gates["xray.png"] = make(chan struct{})
	svc := newTestService(t, &fakePreviewer{}, det)

	updates, unsubscribe := svc.Subscribe("s1")
	defer unsubscribe()

	_, err := svc.Submit(context.Background(), "s1", pngUpload("xray.png"))
	require.NoError(t, err)

	close(det.gates["xray.png"])

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-updates:
			if s.State == entity.StateSuccess {
				return
			}
		case <-deadline:
			t.Fatal("no success snapshot received")
		}
	}
}

func TestDetectionService_Forget(t *testing.T) {
	svc := newTestService(t, &fakePreviewer{}, newFakeDetector())
	ctx := context.Background()

	_, err := svc.Submit(ctx, "s1", entity.NewUploadFromBytes("a.txt", "text/plain", nil))
	require.Error(t, err)

	require.NoError(t, svc.Forget(ctx, "s1"))
	s, err := svc.Snapshot(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, entity.StateIdle, s.State)
	require.Empty(t, s.Error)
}

func TestDetectionService_Reject(t *testing.T) {
	svc := newTestService(t, &fakePreviewer{}, newFakeDetector())

	s, err := svc.Reject(context.Background(), "s1", entity.NewUploadError(entity.ErrFileTooLarge, entity.MsgFileTooLarge, nil))
	require.NoError(t, err)
	require.Equal(t, entity.StateError, s.State)
	require.Equal(t, "File size should be less than 10MB", s.Error)
}

func TestErrorDetail_IncludesCause(t *testing.T) {
	err := entity.NewUploadError(entity.ErrHTTPStatus, "HTTP error! status: 500", errors.New("status 500: model crashed"))
	require.Equal(t, "HTTP error! status: 500: status 500: model crashed", errorDetail(err))

	plain := errors.New("connection refused")
	require.Equal(t, "connection refused", errorDetail(plain))

	same := entity.NewUploadError(entity.ErrNetworkOrParse, "connection refused", plain)
	require.Equal(t, "connection refused", errorDetail(same))
}

func TestDetectionService_StaleAttemptAfterForgetIsDropped(t *testing.T) {
	det := newFakeDetector()
	det.gates["first.png"] = make(chan struct{})
	det.gates["second.png"] = make(chan struct{})
	svc := newTestService(t, &fakePreviewer{}, det)
	t.Cleanup(func() {
		close(det.gates["first.png"])
		close(det.gates["second.png"])
	})
	ctx := context.Background()

	_, err := svc.Submit(ctx, "s1", pngUpload("first.png"))
	require.NoError(t, err)
	svc.mu.Lock()
	stale := svc.attempts["s1"]
	svc.mu.Unlock()

	require.NoError(t, svc.Forget(ctx, "s1"))

	// после Forget номера поколений начинаются заново
	s, err := svc.Submit(ctx, "s1", pngUpload("second.png"))
	require.NoError(t, err)
	require.Equal(t, stale.generation, s.Generation)

	// завершение старой попытки с тем же номером поколения не применяется
	svc.apply("s1", stale, entity.Detected{Generation: stale.generation, Result: entity.DetectionResult{Label: entity.LabelPneumonia, Confidence: 99}})

	s, err = svc.Snapshot(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, entity.StateProcessing, s.State)
	require.Nil(t, s.Result)
}

func TestDetectionService_RejectTooLargeUsesLimit(t *testing.T) {
	svc := NewDetectionService(storage.NewMemorySessionRepository(), NewValidator(2*1024*1024), &fakePreviewer{}, newFakeDetector(), 0)
	t.Cleanup(svc.Close)

	s, err := svc.RejectTooLarge(context.Background(), "s1", nil)
	require.NoError(t, err)
	require.Equal(t, entity.StateError, s.State)
	require.Equal(t, "File size should be less than 2MB", s.Error)
}
