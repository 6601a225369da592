package server

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gen2brain/webp"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgcompress/internal/engine"
	"imgcompress/internal/models"
	"imgcompress/internal/session"
	"imgcompress/internal/storage"
)

type testEnv struct {
	srv   *Server
	store *storage.Storage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := models.DefaultConfig()
	cfg.MaxUploadMB = 1
	store := storage.NewStorage()
	eng := engine.NewImagingEngine()
	sessions := session.NewManager(eng, store, models.DefaultSettings(), zerolog.Nop(),
		session.WithQuietPeriod(10*time.Millisecond))
	t.Cleanup(sessions.Close)

	return &testEnv{srv: NewServer(&cfg, sessions, store, eng, zerolog.Nop()), store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) upload(t *testing.T, name string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return e.do(t, http.MethodPost, "/images", body.Bytes(), mw.FormDataContentType())
}

func (e *testEnv) state(t *testing.T, id string) session.State {
	t.Helper()
	w := e.do(t, http.MethodGet, "/images/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var st session.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	return st
}

func (e *testEnv) waitStatus(t *testing.T, id, status string) session.State {
	t.Helper()
	var st session.State
	require.Eventually(t, func() bool {
		st = e.state(t, id)
		return st.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 8), G: uint8(y * 8), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadID(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func TestServer_UploadCompressDownload(t *testing.T) {
	env := newTestEnv(t)
	id := uploadID(t, env.upload(t, "gradient.png", samplePNG(t)))

	st := env.waitStatus(t, id, session.StatusReady)
	require.NotNil(t, st.Result)
	assert.Equal(t, "gradient.png", st.Result.FileName)

	w := env.do(t, http.MethodPut, "/images/"+id+"/settings", []byte(`{"format":"jpeg","quality":40}`), "application/json")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	st = env.waitStatus(t, id, session.StatusReady)
	assert.Equal(t, models.Settings{Format: models.FormatJPEG, Quality: 40}, st.Result.Settings)
	assert.True(t, st.Result.Current)

	w = env.do(t, http.MethodGet, "/images/"+id+"/download", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	_, params, err := mime.ParseMediaType(w.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "gradient.jpg", params["filename"])
	_, format, err := image.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)

	w = env.do(t, http.MethodGet, "/blobs/"+st.Result.Handle.String(), nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int(st.Result.Size), w.Body.Len())
}

func TestServer_WebPUploadKeepsFormatUnderAuto(t *testing.T) {
	env := newTestEnv(t)

	src, err := png.Decode(bytes.NewReader(samplePNG(t)))
	require.NoError(t, err)
	var upload bytes.Buffer
	require.NoError(t, webp.Encode(&upload, src, webp.Options{Quality: 90}))

	id := uploadID(t, env.upload(t, "gradient.webp", upload.Bytes()))
	st := env.waitStatus(t, id, session.StatusReady)
	require.NotNil(t, st.Result)
	assert.Equal(t, models.FormatAuto, st.Result.Settings.Format)
	assert.Equal(t, "image/webp", st.Result.MimeType)
	assert.Equal(t, "gradient.webp", st.Result.FileName)

	w := env.do(t, http.MethodPut, "/images/"+id+"/settings", []byte(`{"format":"avif","quality":60}`), "application/json")
	require.Equal(t, http.StatusAccepted, w.Code)
	st = env.waitStatus(t, id, session.StatusReady)
	assert.Equal(t, "image/avif", st.Result.MimeType)
	assert.Equal(t, "gradient.avif", st.Result.FileName)
}

func TestServer_DecodeFailureShowsError(t *testing.T) {
	env := newTestEnv(t)
	truncated := samplePNG(t)[:64]

	id := uploadID(t, env.upload(t, "broken.png", truncated))
	st := env.waitStatus(t, id, session.StatusError)
	assert.Contains(t, st.Error, "failed to decode image")
	assert.Equal(t, 0, st.Progress)
	assert.Nil(t, st.Result)

	w := env.do(t, http.MethodGet, "/images/"+id+"/download", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestServer_DownloadEncodesNonASCIIFileName(t *testing.T) {
	env := newTestEnv(t)
	id := uploadID(t, env.upload(t, "фото.png", samplePNG(t)))
	env.waitStatus(t, id, session.StatusReady)

	w := env.do(t, http.MethodGet, "/images/"+id+"/download", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	disposition := w.Header().Get("Content-Disposition")
	assert.NotContains(t, disposition, `\u`)
	kind, params, err := mime.ParseMediaType(disposition)
	require.NoError(t, err)
	assert.Equal(t, "attachment", kind)
	assert.Equal(t, "фото.png", params["filename"])
}

func TestServer_RejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	w := env.upload(t, "notes.txt", []byte("hello there, not an image"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.upload(t, "huge.png", make([]byte, 2<<20))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	id := uploadID(t, env.upload(t, "gradient.png", samplePNG(t)))
	for _, body := range []string{`{"format":"gif","quality":50}`, `{"format":"png","quality":0}`, `not json`} {
		w = env.do(t, http.MethodPut, "/images/"+id+"/settings", []byte(body), "application/json")
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}

	w = env.do(t, http.MethodGet, "/images/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodGet, "/images/6a1f0c1e-3d4b-4f7e-9a51-2c0b8e7d9f10", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_DeleteRevokesResources(t *testing.T) {
	env := newTestEnv(t)
	id := uploadID(t, env.upload(t, "gradient.png", samplePNG(t)))
	st := env.waitStatus(t, id, session.StatusReady)

	w := env.do(t, http.MethodGet, "/blobs/"+st.Preview.String(), nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, "/images/"+id, nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/blobs/"+st.Preview.String(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodGet, "/blobs/"+st.Result.Handle.String(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Zero(t, env.store.Stats().Live)

	w = env.do(t, http.MethodDelete, "/images/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_ListAndFormats(t *testing.T) {
	env := newTestEnv(t)
	uploadID(t, env.upload(t, "a.png", samplePNG(t)))
	uploadID(t, env.upload(t, "b.png", samplePNG(t)))

	w := env.do(t, http.MethodGet, "/images", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var states []session.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &states))
	require.Len(t, states, 2)
	assert.Equal(t, "a.png", states[0].Name)
	assert.Equal(t, "b.png", states[1].Name)

	w = env.do(t, http.MethodGet, "/formats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var formats []formatInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &formats))
	supported := map[models.Format]bool{}
	for _, f := range formats {
		supported[f.Format] = f.Supported
	}
	assert.True(t, supported[models.FormatJPEG])
	assert.True(t, supported[models.FormatPNG])
	assert.True(t, supported[models.FormatWebP])
	assert.True(t, supported[models.FormatAVIF])
	assert.Len(t, formats, len(models.Formats))
	assert.False(t, strings.Contains(w.Body.String(), "gif"))
}
