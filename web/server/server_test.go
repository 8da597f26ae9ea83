package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/camcal/logging"
	"go.viam.com/camcal/rimage"
	"go.viam.com/camcal/rimage/calibrate"
	"go.viam.com/camcal/rimage/detection/chessboard"
	"go.viam.com/camcal/rimage/synthetic"
	"go.viam.com/camcal/rimage/transform"
	"go.viam.com/camcal/services/calibration"
	"go.viam.com/camcal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, storage.ObjectStore) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	store := storage.NewMemoryStore(logger)

	spec := chessboard.PatternSpec{Columns: 7, Rows: 5}
	intrinsics := &transform.PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 900, Fy: 900, Ppx: 320, Ppy: 240}
	model := &transform.PinholeCameraModel{PinholeCameraIntrinsics: intrinsics}
	for i, pose := range synthetic.DefaultPoses(4, spec, intrinsics) {
		img, err := synthetic.RenderCheckerboard(model, pose, spec, 640, 480, synthetic.DefaultOptions())
		test.That(t, err, test.ShouldBeNil)
		data, err := rimage.EncodePNG(img)
		test.That(t, err, test.ShouldBeNil)
		key := storage.Key("boards", string(rune('a'+i))+".png")
		test.That(t, store.Put(context.Background(), key, data, "image/png"), test.ShouldBeNil)
	}

	cfg := calibrate.DefaultConfig()
	cfg.MinValidImages = 4
	svc := calibration.NewService(store, cfg, logger)
	srv := New(svc, Options{MaxRequestBytes: 4096}, logger.Sublogger("web"))
	httpServer := httptest.NewServer(srv.Handler())
	t.Cleanup(httpServer.Close)
	return httpServer, store
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	test.That(t, json.NewDecoder(resp.Body).Decode(&body), test.ShouldBeNil)
	return body
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/calibrate", "application/json", strings.NewReader(body))
	test.That(t, err, test.ShouldBeNil)
	return resp
}

func TestRootAndHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, decodeBody(t, resp)["message"], test.ShouldEqual, "Camera calibration service is running")

	resp, err = http.Get(ts.URL + "/health")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decodeBody(t, resp)["status"], test.ShouldEqual, "healthy")

	resp, err = http.Get(ts.URL + "/nowhere")
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusNotFound)

	// any origin is allowed
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	test.That(t, err, test.ShouldBeNil)
	req.Header.Set("Origin", "https://example.com")
	resp, err = http.DefaultClient.Do(req)
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, resp.Header.Get("Access-Control-Allow-Origin"), test.ShouldEqual, "*")
}

func TestCalibrateRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := post(t, ts.URL, `{"metadata": {"run_id": "run-7", "dataset": "boards", "checkerboard_size": [7, 5],
		"lens": "wide"}, "images": ["a.png", "b.png", "c.png", "d.png"]}`)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	body := decodeBody(t, resp)
	test.That(t, body["status"], test.ShouldEqual, "success")
	test.That(t, body["run_id"], test.ShouldEqual, "run-7")
	result := body["result"].(map[string]interface{})
	test.That(t, result["processed_images"], test.ShouldEqual, 4.)
	test.That(t, result, test.ShouldContainKey, "camera_matrix")
	test.That(t, len(result["dist"].([]interface{})), test.ShouldEqual, 5)

	got, err := http.Get(ts.URL + "/calibrate/run-7")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.StatusCode, test.ShouldEqual, http.StatusOK)
	stored := decodeBody(t, got)
	test.That(t, stored["run_id"], test.ShouldEqual, "run-7")
	test.That(t, stored["result"].(map[string]interface{})["camera_matrix"], test.ShouldResemble, result["camera_matrix"])
	test.That(t, stored["metadata"].(map[string]interface{})["lens"], test.ShouldEqual, "wide")
}

func TestCalibrateErrors(t *testing.T) {
	ts, store := newTestServer(t)

	resp := post(t, ts.URL, `{"metadata": {"dataset": "boards", "checkerboard_size": [7, 5]}, "images": []}`)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)
	test.That(t, decodeBody(t, resp)["detail"], test.ShouldContainSubstring, "images")

	resp = post(t, ts.URL, `{"metadata": {"dataset": "boards", "checkerboard_size": [7, 5]}, "images": ["`+
		strings.Repeat("x", 5000)+`"]}`)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)
	resp.Body.Close()

	resp = post(t, ts.URL, `{"metadata": {"run_id": "short", "dataset": "boards", "checkerboard_size": [7, 5]},
		"images": ["a.png", "b.png", "missing.png"]}`)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusUnprocessableEntity)
	body := decodeBody(t, resp)
	test.That(t, body["status"], test.ShouldEqual, "error")
	test.That(t, body["reason"], test.ShouldEqual, string(calibrate.ReasonInsufficientValidImages))
	test.That(t, body["processed_images"], test.ShouldEqual, 2.)
	test.That(t, body["total_images"], test.ShouldEqual, 3.)
	test.That(t, body, test.ShouldNotContainKey, "camera_matrix")

	got, err := http.Get(ts.URL + "/calibrate/short")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.StatusCode, test.ShouldEqual, http.StatusNotFound)
	test.That(t, decodeBody(t, got)["detail"], test.ShouldContainSubstring, "short")

	// unreadable stored results are internal errors
	test.That(t, store.Put(context.Background(), "broken/result.json", []byte("{"), storage.ContentTypeJSON), test.ShouldBeNil)
	got, err = http.Get(ts.URL + "/calibrate/broken")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.StatusCode, test.ShouldEqual, http.StatusInternalServerError)
	got.Body.Close()
}

func TestNestedRunID(t *testing.T) {
	ts, store := newTestServer(t)
	result := []byte(`{"camera_matrix": [[1, 0, 2], [0, 1, 3], [0, 0, 1]], "dist": [0, 0, 0, 0, 0]}`)
	test.That(t, store.Put(context.Background(), "runs/2024-04-21/result.json", result, storage.ContentTypeJSON), test.ShouldBeNil)

	got, err := http.Get(ts.URL + "/calibrate/runs/2024-04-21")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, decodeBody(t, got)["run_id"], test.ShouldEqual, "runs/2024-04-21")
}

func TestServeShutdown(t *testing.T) {
	logger := logging.NewTestLogger(t)
	svc := calibration.NewService(storage.NewMemoryStore(logger), calibrate.DefaultConfig(), logger)
	srv := New(svc, Options{}, logger)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, listener)
	}()

	resp, err := http.Get("http://" + listener.Addr().String() + "/health")
	test.That(t, err, test.ShouldBeNil)
	data, err := io.ReadAll(resp.Body)
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, bytes.Contains(data, []byte("healthy")), test.ShouldBeTrue)

	cancel()
	test.That(t, <-done, test.ShouldBeNil)
}

func TestServeListenerError(t *testing.T) {
	logger := logging.NewTestLogger(t)
	svc := calibration.NewService(storage.NewMemoryStore(logger), calibrate.DefaultConfig(), logger)
	srv := New(svc, Options{}, logger)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, listener.Close(), test.ShouldBeNil)

	// ctx is never cancelled: Serve must still return, and with the listener's error
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(context.Background(), listener)
	}()
	select {
	case err := <-done:
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, errors.Is(err, net.ErrClosed), test.ShouldBeTrue)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after its listener failed")
	}
}
