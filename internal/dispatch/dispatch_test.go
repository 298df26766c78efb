package dispatch_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"modelgate/internal/codec"
	"modelgate/internal/contract"
	"modelgate/internal/ctx"
	"modelgate/internal/dispatch"
	"modelgate/internal/handlers/model"
	"modelgate/internal/middleware"
	"modelgate/internal/routers"
)

func newServer(t *testing.T) *echo.Echo {
	t.Helper()
	log := zap.NewNop().Sugar()
	svc, cleanup, err := model.BuildService(log)
	if err != nil {
		t.Fatalf("BuildService failed: %v", err)
	}
	if err := svc.Startup(context.Background()); err != nil {
		cleanup()
		t.Fatalf("Startup failed: %v", err)
	}
	t.Cleanup(func() {
		svc.Shutdown(context.Background())
		cleanup()
	})

	e := echo.New()
	base := e.Group("")
	base.Use(middleware.NewTrackMiddleware(log, svc.State()))
	routers.RegisterServiceRoutes(base, svc)
	return e
}

func post(e *echo.Echo, path, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Kind   string `json:"kind"`
			Detail string `json:"detail"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return body.Error.Kind
}

func TestTextEcho(t *testing.T) {
	e := newServer(t)
	rec := post(e, "/yo", "text/plain", []byte("ping"))
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "yo ping" {
		t.Fatalf("body = %q, want %q", got, "yo ping")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	e := newServer(t)
	for _, op := range []string{"echo_json", "echo_json_sync", "echo_obj", "echo_delay"} {
		rec := post(e, "/"+op, "application/json", []byte(`{"a":[1,2],"b":"x"}`))
		if rec.Code != 200 {
			t.Fatalf("%s status = %d: %s", op, rec.Code, rec.Body.String())
		}
		var got map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("%s returned invalid JSON: %v", op, err)
		}
		if got["b"] != "x" {
			t.Fatalf("%s lost data: %v", op, got)
		}
	}
}

func TestSchemaViolationRejected(t *testing.T) {
	e := newServer(t)
	rec := post(e, "/echo_json_enforce_structure", "application/json",
		[]byte(`{"name": 1, "endpoints": ["a"]}`))
	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "schema_validation" {
		t.Fatalf("kind = %q, want schema_validation", kind)
	}

	ok := post(e, "/echo_json_enforce_structure", "application/json",
		[]byte(`{"name": "svc", "endpoints": ["a", "b"]}`))
	if ok.Code != 200 {
		t.Fatalf("valid payload rejected: %d %s", ok.Code, ok.Body.String())
	}
}

func TestShapeMismatchSkipsHandler(t *testing.T) {
	log := zap.NewNop().Sugar()
	svc := dispatch.NewService("shape-test", log)
	invoked := false
	err := svc.Register(dispatch.Endpoint{
		Name:     "strict",
		Contract: contract.New(&codec.NDArray{Shape: []int{2, 2}, EnforceShape: true}, &codec.NDArray{}),
		Handler: func(_ *ctx.Context, in codec.Value) (codec.Value, error) {
			invoked = true
			return in, nil
		},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	e := echo.New()
	base := e.Group("")
	base.Use(middleware.NewTrackMiddleware(log, svc.State()))
	routers.RegisterServiceRoutes(base, svc)

	rec := post(e, "/strict", "application/json", []byte(`[[1],[2],[3]]`))
	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "shape_mismatch" {
		t.Fatalf("kind = %q, want shape_mismatch", kind)
	}
	if invoked {
		t.Fatal("handler ran on a rejected payload")
	}
}

func TestTensorOperations(t *testing.T) {
	e := newServer(t)

	rec := post(e, "/predict_tensor_enforce_shape", "application/json", []byte(`[[1,2],[3,4]]`))
	if rec.Code != 200 {
		t.Fatalf("enforce_shape status = %d: %s", rec.Code, rec.Body.String())
	}
	var env struct {
		DType string `json:"dtype"`
		Shape []int  `json:"shape"`
		Data  any    `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("tensor response is not an envelope: %v", err)
	}
	if env.Shape[0] != 2 || env.Shape[1] != 2 {
		t.Fatalf("shape = %v, want [2 2]", env.Shape)
	}
	// coefficient 2 bound at runner construction
	if fmt.Sprint(env.Data) != "[[2 4] [6 8]]" {
		t.Fatalf("data = %v, want [[2 4] [6 8]]", env.Data)
	}

	wrongDtype := post(e, "/predict_tensor_enforce_dtype", "application/json",
		[]byte(`{"dtype":"float64","shape":[2],"data":[1.5,2.5]}`))
	if wrongDtype.Code != 400 {
		t.Fatalf("enforce_dtype status = %d, want 400", wrongDtype.Code)
	}
	if kind := errorKind(t, wrongDtype); kind != "dtype_mismatch" {
		t.Fatalf("kind = %q, want dtype_mismatch", kind)
	}

	asStr := post(e, "/predict_tensor_enforce_dtype", "application/json",
		[]byte(`{"dtype":"uint8","shape":[2],"data":[100,200]}`))
	if asStr.Code != 200 {
		t.Fatalf("uint8 payload rejected: %d %s", asStr.Code, asStr.Body.String())
	}
	if !strings.Contains(asStr.Body.String(), `"str"`) {
		t.Fatalf("output dtype not str: %s", asStr.Body.String())
	}
	if !strings.Contains(asStr.Body.String(), `"400"`) {
		t.Fatalf("want scaled value 400 as string: %s", asStr.Body.String())
	}

	multi := post(e, "/predict_tensor_multi_output", "application/json", []byte(`[1,2,3]`))
	if multi.Code != 200 {
		t.Fatalf("multi_output status = %d: %s", multi.Code, multi.Body.String())
	}
	if !strings.Contains(multi.Body.String(), "[2,4,6]") {
		t.Fatalf("want doubled data: %s", multi.Body.String())
	}
}

func TestFramePrediction(t *testing.T) {
	e := newServer(t)
	rec := post(e, "/predict_frame", "application/json", []byte(`[{"col1":1},{"col1":5}]`))
	if rec.Code != 200 {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `[{"col1":2},{"col1":10}]` {
		t.Fatalf("body = %s", got)
	}

	bad := post(e, "/predict_frame", "application/json", []byte(`[{"col1":"nope"}]`))
	if bad.Code != 400 {
		t.Fatalf("status = %d, want 400", bad.Code)
	}
	if kind := errorKind(t, bad); kind != "column_type_mismatch" {
		t.Fatalf("kind = %q, want column_type_mismatch", kind)
	}
}

func TestFileRoundTrip(t *testing.T) {
	e := newServer(t)
	payload := []byte{0x00, 0x01, 0xFF, 0xFE}
	rec := post(e, "/predict_file", "application/pdf", payload)
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Fatalf("body altered: %v", rec.Body.Bytes())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type = %q", ct)
	}
}

func testPNG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestImageEcho(t *testing.T) {
	e := newServer(t)
	rec := post(e, "/echo_image", "image/png", testPNG(t, color.RGBA{R: 255, A: 255}))
	if rec.Code != 200 {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/bmp" {
		t.Fatalf("content type = %q, want image/bmp", ct)
	}

	bad := post(e, "/echo_image", "image/png", []byte("not an image"))
	if bad.Code != 400 {
		t.Fatalf("status = %d, want 400", bad.Code)
	}
	if kind := errorKind(t, bad); kind != "image_decode" {
		t.Fatalf("kind = %q, want image_decode", kind)
	}
}

func multiImageRequest(t *testing.T, path string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, field := range []struct {
		name string
		c    color.RGBA
	}{
		{"original", color.RGBA{R: 200, A: 255}},
		{"compared", color.RGBA{B: 100, A: 255}},
	} {
		fw, err := w.CreateFormFile(field.name, field.name+".png")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write(testPNG(t, field.c)); err != nil {
			t.Fatalf("writing part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func readParts(t *testing.T, rec *httptest.ResponseRecorder) map[string][]byte {
	t.Helper()
	_, params, err := mime.ParseMediaType(rec.Header().Get("Content-Type"))
	if err != nil {
		t.Fatalf("response content type: %v", err)
	}
	mr := multipart.NewReader(rec.Body, params["boundary"])
	parts := map[string][]byte{}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading part: %v", err)
		}
		data, err := io.ReadAll(p)
		if err != nil {
			t.Fatalf("reading part body: %v", err)
		}
		parts[p.FormName()] = data
	}
	return parts
}

func TestMultiImageBindingByName(t *testing.T) {
	e := newServer(t)

	results := map[string]map[string][]byte{}
	for _, op := range []string{"predict_multi_images", "predict_different_args"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, multiImageRequest(t, "/"+op))
		if rec.Code != 200 {
			t.Fatalf("%s status = %d: %s", op, rec.Code, rec.Body.String())
		}
		parts := readParts(t, rec)
		if len(parts) != 2 {
			t.Fatalf("%s returned %d parts", op, len(parts))
		}
		if parts["img1"] == nil || parts["img2"] == nil {
			t.Fatalf("%s missing output fields: %v", op, parts)
		}
		results[op] = parts
	}

	// Both operations bind fields by name, so swapped parameter order must
	// not change the output mapping.
	for _, field := range []string{"img1", "img2"} {
		if !bytes.Equal(results["predict_multi_images"][field], results["predict_different_args"][field]) {
			t.Fatalf("field %s differs across parameter orders", field)
		}
	}
}

func TestMissingMultipartField(t *testing.T) {
	e := newServer(t)
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, _ := w.CreateFormFile("original", "original.png")
	_, _ = fw.Write(testPNG(t, color.RGBA{A: 255}))
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/predict_multi_images", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "missing_field" {
		t.Fatalf("kind = %q, want missing_field", kind)
	}
}

func TestStatusOverride(t *testing.T) {
	e := newServer(t)
	rec := post(e, "/use_context?error=boom", "text/plain", []byte("ignored"))
	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := rec.Body.String(); got != "boom" {
		t.Fatalf("body = %q, want %q", got, "boom")
	}
}

func TestSharedStateReadableAfterStartup(t *testing.T) {
	e := newServer(t)
	rec := post(e, "/use_context?state=data", "text/plain", []byte(""))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "hello" {
		t.Fatalf("state value = %q, want %q", got, "hello")
	}
}

func TestConcurrentRequestIsolation(t *testing.T) {
	e := newServer(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			in := fmt.Sprintf("req-%d", n)
			// use_context echoes through its request-local store, so a
			// crossed response means one request read another's entry.
			rec := post(e, "/use_context", "text/plain", []byte(in))
			if rec.Code != 200 {
				t.Errorf("status = %d", rec.Code)
				return
			}
			if got := rec.Body.String(); got != in {
				t.Errorf("crossed responses: got %q for input %q", got, in)
			}
		}(i)
	}
	wg.Wait()
}

func TestStreamingEndsWithDoneMarker(t *testing.T) {
	e := newServer(t)
	rec := post(e, "/predict_text_stream", "text/plain", []byte("count"))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	for i := 0; i < 10; i++ {
		want := fmt.Sprintf("data: count %d\n\n", i)
		if !strings.Contains(body, want) {
			t.Fatalf("missing chunk %q in %q", want, body)
		}
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("stream did not end with the DONE marker: %q", body)
	}
}

func TestMetricsOperations(t *testing.T) {
	e := newServer(t)
	rec := post(e, "/echo_data_metric", "text/plain", []byte("data"))
	if rec.Code != 200 || rec.Body.String() != "data" {
		t.Fatalf("echo_data_metric: %d %q", rec.Code, rec.Body.String())
	}
	reg := post(e, "/ensure_metrics_registered", "text/plain", []byte(""))
	if reg.Code != 200 || reg.Body.String() != "true" {
		t.Fatalf("ensure_metrics_registered: %d %q", reg.Code, reg.Body.String())
	}
}

func TestUnknownOperation(t *testing.T) {
	log := zap.NewNop().Sugar()
	svc := dispatch.NewService("unknown-test", log)
	e := echo.New()
	base := e.Group("")
	base.Use(middleware.NewTrackMiddleware(log, svc.State()))
	base.POST("/missing", func(cc echo.Context) error {
		return svc.Dispatch(cc.(*ctx.Context), "missing")
	})

	rec := post(e, "/missing", "text/plain", []byte(""))
	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRegisterAssemblyFailures(t *testing.T) {
	log := zap.NewNop().Sugar()
	echoEP := func(name string) dispatch.Endpoint {
		return dispatch.Endpoint{
			Name:     name,
			Contract: contract.New(codec.Text{}, codec.Text{}),
			Handler: func(_ *ctx.Context, in codec.Value) (codec.Value, error) {
				return in, nil
			},
		}
	}

	svc := dispatch.NewService("assembly-test", log)
	if err := svc.Register(echoEP("dup")); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := svc.Register(echoEP("dup")); err == nil {
		t.Fatal("duplicate name accepted")
	}

	none := echoEP("none")
	none.Handler = nil
	if err := svc.Register(none); err == nil {
		t.Fatal("endpoint with no handler accepted")
	}

	mp := codec.NewMultipart(
		codec.Field{Name: "a", Codec: codec.Text{}},
		codec.Field{Name: "b", Codec: codec.Text{}},
	)
	bad := dispatch.Endpoint{
		Name:     "badparams",
		Contract: contract.New(mp, codec.Text{}),
		Params:   []string{"a", "missing"},
		Multi: func(_ *ctx.Context, args []codec.Value) (codec.Value, error) {
			return args[0], nil
		},
	}
	if err := svc.Register(bad); err == nil {
		t.Fatal("unbindable parameter accepted")
	}

	bad.Name = "dupparams"
	bad.Params = []string{"a", "a"}
	if err := svc.Register(bad); err == nil {
		t.Fatal("duplicate parameter accepted")
	}
}
