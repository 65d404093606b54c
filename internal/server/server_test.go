package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"plantai/internal/camera"
	"plantai/internal/config"
	"plantai/internal/generated"
	"plantai/internal/history"
	"plantai/internal/predict"
	"plantai/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	srv     *Server
	opener  *camera.FakeOpener
	manager *camera.DefaultManager
	images  *storage.Store
	history *history.Store
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	return cfg
}

// newTestEnv はフェイクのカメラと固定結果の分類器でサーバーを作る
func newTestEnv(t *testing.T, classifier predict.Classifier) *testEnv {
	t.Helper()

	opener := camera.NewFakeOpener()
	opts := camera.Options{
		MaxIndex:        3,
		FallbackIndices: []int{0, 1, 2},
		Width:           640,
		Height:          480,
		FPS:             30,
		JPEGQuality:     80,
		StopGrace:       time.Millisecond,
		ReleaseSettle:   time.Millisecond,
		ReadRetry:       time.Millisecond,
		ErrorRetry:      time.Millisecond,
		StreamBuffer:    1,
	}
	manager := camera.NewDefaultManager(opener, camera.OSLinux, opts, zap.NewNop())

	images, err := storage.New(filepath.Join(t.TempDir(), "uploadimages"))
	if err != nil {
		t.Fatalf("保存先の作成に失敗しました: %v", err)
	}

	db, err := history.Open(context.Background(), t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("データベースを開けません: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := history.NewStore(db)

	service := predict.NewService(classifier, predict.DefaultLabels(), store, nil, zap.NewNop())

	srv, err := NewGin(testConfig(), Deps{
		Camera:      manager,
		Predictor:   service,
		Images:      images,
		History:     store,
		ModelLoaded: true,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("サーバーの作成に失敗しました: %v", err)
	}
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, opener: opener, manager: manager, images: images, history: store}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeCameraResponse(t *testing.T, rec *httptest.ResponseRecorder) cameraResponse {
	t.Helper()
	var resp cameraResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗しました: %v (%s)", err, rec.Body.String())
	}
	return resp
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	env := newTestEnv(t, predict.StaticClassifier{})
	env.opener.AddCamera(0, camera.FakeCamera{Width: 640, Height: 480})

	if _, err := env.manager.Start(context.Background(), nil); err != nil {
		t.Fatalf("カメラの起動に失敗しました: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- env.srv.Start(ctx)
	}()

	// サーバーが起動するまで少し待つ
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("サーバーの起動/停止でエラーが発生しました: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}

	if env.manager.State() != camera.StateUninitialized {
		t.Errorf("シャットダウン後にカメラが解放されていません: %s", env.manager.State())
	}
	if env.opener.OpenDevices() != 0 {
		t.Errorf("開いたままのデバイスがあります: %d", env.opener.OpenDevices())
	}
}

// TestServerEndpoints はサーバーのエンドポイントをテストする
func TestServerEndpoints(t *testing.T) {
	env := newTestEnv(t, predict.StaticClassifier{})

	testCases := []struct {
		name           string
		method         string
		endpoint       string
		expectedStatus int
	}{
		{"ルートエンドポイント", http.MethodGet, "/", http.StatusOK},
		{"ヘルスチェックエンドポイント", http.MethodGet, "/health", http.StatusOK},
		{"ステータスエンドポイント", http.MethodGet, "/api/status", http.StatusOK},
		{"推定履歴", http.MethodGet, "/api/predictions", http.StatusOK},
		{"推定履歴の件数指定", http.MethodGet, "/api/predictions?limit=5", http.StatusOK},
		{"件数が範囲外", http.MethodGet, "/api/predictions?limit=1000", http.StatusBadRequest},
		{"件数が数値でない", http.MethodGet, "/api/predictions?limit=abc", http.StatusBadRequest},
		{"存在しない推定結果", http.MethodGet, "/api/predictions/missing", http.StatusNotFound},
		{"OpenAPI定義", http.MethodGet, "/openapi.yaml", http.StatusOK},
		{"アップロードのGETはリダイレクト", http.MethodGet, "/upload/", http.StatusFound},
		{"存在しない画像", http.MethodGet, "/uploadimages/nothing.jpg", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(httptest.NewRequest(tc.method, tc.endpoint, nil))
			if rec.Code != tc.expectedStatus {
				t.Errorf("予期しないステータスコード: got %d, want %d (%s)",
					rec.Code, tc.expectedStatus, rec.Body.String())
			}
		})
	}
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t, predict.StaticClassifier{})
	env.opener.AddCamera(0, camera.FakeCamera{Width: 640, Height: 480})

	getState := func() generated.StatusResponse {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/api/status", nil))
		var resp generated.StatusResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("レスポンスのデコードに失敗しました: %v", err)
		}
		return resp
	}

	resp := getState()
	if resp.Status != generated.Running || resp.Camera.State != generated.Uninitialized {
		t.Errorf("起動前の状態が期待値と異なります: %+v", resp)
	}
	if resp.Camera.System != "Linux" || !resp.Classifier {
		t.Errorf("システム情報が期待値と異なります: %+v", resp)
	}

	if _, err := env.manager.Start(context.Background(), nil); err != nil {
		t.Fatalf("カメラの起動に失敗しました: %v", err)
	}
	if got := getState().Camera.State; got != generated.OpenActive {
		t.Errorf("起動後の状態: got %s, want %s", got, generated.OpenActive)
	}
}

func TestStartAndStopCamera(t *testing.T) {
	env := newTestEnv(t, predict.StaticClassifier{})
	env.opener.AddCamera(0, camera.FakeCamera{Width: 640, Height: 480})
	env.opener.AddCamera(1, camera.FakeCamera{Width: 1920, Height: 1080})

	testCases := []struct {
		name           string
		method         string
		endpoint       string
		body           string
		contentType    string
		expectedStatus int
		expectedResult cameraResponse
	}{
		{
			name: "自動選択で起動", endpoint: "/start_camera", body: "",
			expectedStatus: http.StatusOK,
			expectedResult: cameraResponse{Status: "success", Message: "Camera started"},
		},
		{
			name: "二重起動", endpoint: "/start_camera", body: "{}",
			expectedStatus: http.StatusOK,
			expectedResult: cameraResponse{Status: "success", Message: "Camera already running"},
		},
		{
			name: "停止", endpoint: "/stop_camera",
			expectedStatus: http.StatusOK,
			expectedResult: cameraResponse{Status: "success", Message: "Camera stopped"},
		},
		{
			name: "停止中の停止", endpoint: "/stop_camera",
			expectedStatus: http.StatusOK,
			expectedResult: cameraResponse{Status: "success", Message: "Camera stopped"},
		},
		{
			name: "インデックス指定で起動", endpoint: "/start_camera", body: `{"camera_index": 1}`,
			expectedStatus: http.StatusOK,
			expectedResult: cameraResponse{Status: "success", Message: "Camera 1 started"},
		},
		{
			name: "負のインデックス", endpoint: "/start_camera", body: `{"camera_index": -1}`,
			expectedStatus: http.StatusBadRequest,
			expectedResult: cameraResponse{Status: "error", Message: "camera_index must not be negative"},
		},
		{
			name: "不正なJSON", endpoint: "/start_camera", body: `{"camera_index":`,
			expectedStatus: http.StatusBadRequest,
			expectedResult: cameraResponse{Status: "error", Message: "Invalid request body"},
		},
		{
			name: "再度停止", endpoint: "/stop_camera",
			expectedStatus: http.StatusOK,
			expectedResult: cameraResponse{Status: "success", Message: "Camera stopped"},
		},
		{
			name: "JSON以外の本文は無視して自動選択", endpoint: "/start_camera",
			body: `{"camera_index":`, contentType: "text/plain",
			expectedStatus: http.StatusOK,
			expectedResult: cameraResponse{Status: "success", Message: "Camera started"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.endpoint, strings.NewReader(tc.body))
			contentType := tc.contentType
			if contentType == "" {
				contentType = "application/json"
			}
			req.Header.Set("Content-Type", contentType)
			rec := env.do(req)

			if rec.Code != tc.expectedStatus {
				t.Fatalf("予期しないステータスコード: got %d, want %d (%s)", rec.Code, tc.expectedStatus, rec.Body.String())
			}
			if got := decodeCameraResponse(t, rec); got != tc.expectedResult {
				t.Errorf("期待値: %+v, 実際: %+v", tc.expectedResult, got)
			}
		})
	}
}

func TestStartCameraWithoutDevice(t *testing.T) {
	env := newTestEnv(t, predict.StaticClassifier{})

	rec := env.do(httptest.NewRequest(http.MethodPost, "/start_camera", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("予期しないステータスコード: got %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	want := cameraResponse{Status: "error", Message: startFailedMessage}
	if got := decodeCameraResponse(t, rec); got != want {
		t.Errorf("期待値: %+v, 実際: %+v", want, got)
	}
}

func TestListCameras(t *testing.T) {
	env := newTestEnv(t, predict.StaticClassifier{})
	env.opener.AddCamera(0, camera.FakeCamera{Width: 640, Height: 480})
	env.opener.AddCamera(2, camera.FakeCamera{Width: 1280, Height: 720})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/list_cameras", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("予期しないステータスコード: %d", rec.Code)
	}

	var resp listCamerasResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗しました: %v", err)
	}
	if resp.System != "Linux" {
		t.Errorf("system: got %s, want Linux", resp.System)
	}
	if len(resp.Cameras) != 2 || resp.Cameras[0].Index != 0 || resp.Cameras[1].Index != 2 {
		t.Fatalf("カメラ一覧が期待値と異なります: %+v", resp.Cameras)
	}
	if resp.Cameras[1].Width != 1280 || resp.Cameras[1].Height != 720 {
		t.Errorf("解像度が期待値と異なります: %+v", resp.Cameras[1])
	}
	if env.opener.OpenDevices() != 0 {
		t.Errorf("探索したデバイスが開いたままです: %d", env.opener.OpenDevices())
	}
}

func TestListCamerasEmpty(t *testing.T) {
	env := newTestEnv(t, predict.StaticClassifier{})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/list_cameras", nil))
	if !strings.Contains(rec.Body.String(), `"cameras":[]`) {
		t.Errorf("空の一覧が返されませんでした: %s", rec.Body.String())
	}
}

func TestVideoFeed(t *testing.T) {
	env := newTestEnv(t, predict.StaticClassifier{})
	env.opener.AddCamera(0, camera.FakeCamera{Width: 640, Height: 480})

	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/video_feed")
	if err != nil {
		t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("予期しないステータスコード: %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != camera.ContentType {
		t.Errorf("Content-Type: got %s, want %s", got, camera.ContentType)
	}

	buf := make([]byte, 256)
	n, err := resp.Body.Read(buf)
	if err != nil && n == 0 {
		t.Fatalf("ストリームを読めませんでした: %v", err)
	}
	if !bytes.HasPrefix(buf[:n], []byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")) {
		t.Errorf("チャンクの形式が期待値と異なります: %q", buf[:n])
	}
	resp.Body.Close()

	// 切断後も配信状態が下りるだけでデバイスは開いたまま
	deadline := time.Now().Add(2 * time.Second)
	for env.manager.State() != camera.StateOpenInactive && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := env.manager.State(); got != camera.StateOpenInactive {
		t.Errorf("切断後の状態: got %s, want %s", got, camera.StateOpenInactive)
	}
}

func TestVideoFeedWithoutCamera(t *testing.T) {
	env := newTestEnv(t, predict.StaticClassifier{})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/video_feed", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("予期しないステータスコード: got %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func newUploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("フォームの作成に失敗しました: %v", err)
	}
	_, _ = part.Write(content)
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	// 30 は Tomato___Early_blight
	env := newTestEnv(t, predict.StaticClassifier{Result: predict.Classification{Class: 30, Confidence: 0.9}})

	rec := env.do(newUploadRequest(t, "img", "leaf.jpg", []byte("image")))
	if rec.Code != http.StatusOK {
		t.Fatalf("予期しないステータスコード: %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Tomato - Early blight") {
		t.Errorf("推定結果が表示されていません: %s", rec.Body.String())
	}

	entries, err := os.ReadDir(env.images.Dir())
	if err != nil || len(entries) != 1 {
		t.Fatalf("アップロード画像が保存されていません: %v %v", entries, err)
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "temp_") || !strings.HasSuffix(name, "_leaf.jpg") {
		t.Errorf("ファイル名が期待した形式ではありません: %s", name)
	}
	if !strings.Contains(rec.Body.String(), "/uploadimages/"+name) {
		t.Errorf("画像のパスが表示されていません")
	}

	// 保存した画像を取得できる
	img := env.do(httptest.NewRequest(http.MethodGet, "/uploadimages/"+name, nil))
	if img.Code != http.StatusOK || img.Body.String() != "image" {
		t.Errorf("保存した画像を取得できません: %d %q", img.Code, img.Body.String())
	}

	// 履歴に残っている
	list, err := env.history.List(context.Background(), 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("推定履歴が保存されていません: %v %v", list, err)
	}
	if list[0].Source != predict.SourceUpload || list[0].Label.Name != "Tomato___Early_blight" {
		t.Errorf("推定履歴が期待値と異なります: %+v", list[0])
	}

	get := env.do(httptest.NewRequest(http.MethodGet, "/api/predictions/"+list[0].ID, nil))
	if get.Code != http.StatusOK {
		t.Fatalf("推定結果を取得できません: %d", get.Code)
	}
	var p generated.Prediction
	if err := json.Unmarshal(get.Body.Bytes(), &p); err != nil {
		t.Fatalf("レスポンスのデコードに失敗しました: %v", err)
	}
	if p.DisplayName != "Tomato - Early blight" || p.Source != generated.Upload {
		t.Errorf("推定結果が期待値と異なります: %+v", p)
	}
}

func TestUploadErrors(t *testing.T) {
	testCases := []struct {
		name           string
		classifier     predict.Classifier
		req            func(t *testing.T) *http.Request
		expectedStatus int
		expectedText   string
	}{
		{
			name:       "ファイルなし",
			classifier: predict.StaticClassifier{},
			req: func(t *testing.T) *http.Request {
				return newUploadRequest(t, "other", "leaf.jpg", []byte("x"))
			},
			expectedStatus: http.StatusBadRequest,
			expectedText:   "No image uploaded.",
		},
		{
			name:       "推定に失敗",
			classifier: predict.StaticClassifier{Err: errors.New("model not loaded")},
			req: func(t *testing.T) *http.Request {
				return newUploadRequest(t, "img", "leaf.jpg", []byte("x"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedText:   "Prediction failed",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, tc.classifier)
			rec := env.do(tc.req(t))
			if rec.Code != tc.expectedStatus {
				t.Errorf("予期しないステータスコード: got %d, want %d", rec.Code, tc.expectedStatus)
			}
			if !strings.Contains(rec.Body.String(), tc.expectedText) {
				t.Errorf("エラーメッセージが表示されていません: %s", rec.Body.String())
			}
		})
	}
}

func TestCaptureFrame(t *testing.T) {
	env := newTestEnv(t, predict.StaticClassifier{Result: predict.Classification{Class: 3}})

	// カメラがなければエラー画面
	rec := env.do(httptest.NewRequest(http.MethodPost, "/capture_frame", nil))
	if !strings.Contains(rec.Body.String(), noFrameMessage) {
		t.Errorf("エラーメッセージが表示されていません: %s", rec.Body.String())
	}

	env.opener.AddCamera(0, camera.FakeCamera{Width: 640, Height: 480})
	if _, err := env.manager.Start(context.Background(), nil); err != nil {
		t.Fatalf("カメラの起動に失敗しました: %v", err)
	}

	rec = env.do(httptest.NewRequest(http.MethodPost, "/capture_frame", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("予期しないステータスコード: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Apple - healthy") {
		t.Errorf("推定結果が表示されていません: %s", rec.Body.String())
	}

	entries, _ := os.ReadDir(env.images.Dir())
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), "_capture.jpg") {
		t.Fatalf("キャプチャ画像が保存されていません: %v", entries)
	}
	data, _ := os.ReadFile(filepath.Join(env.images.Dir(), entries[0].Name()))
	if !strings.Contains(string(data), "mirrored=true") {
		t.Errorf("キャプチャ画像が左右反転されていません: %q", data)
	}
}
