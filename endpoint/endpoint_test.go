package endpoint

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type headerPreprocessor struct {
	Key   string
	Value string
}

func (hp headerPreprocessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	if hp.Key != "" {
		w.Header().Set(hp.Key, hp.Value)
	}
	return next(w, r)
}

func TestHandler_PreprocessorsThenRenderer(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	h := Handler(func(_ http.ResponseWriter, r *http.Request, params struct{}) (Renderer, error) {
		return &StringRenderer{Body: "ok"}, nil
	}, headerPreprocessor{Key: "X-Test", Value: "1"})

	h.ServeHTTP(rec, req)

	resp := rec.Result()
	if got := resp.Header.Get("X-Test"); got != "1" {
		t.Fatalf("expected X-Test header %q, got %q", "1", got)
	}
	if got := rec.Body.String(); got != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", got)
	}
}

func TestHandler_ProcessorShortCircuit(t *testing.T) {
	called := false
	h := Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		called = true
		return &StringRenderer{Body: "ok"}, nil
	}, ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		return Error(http.StatusUnauthorized, "login required", nil)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if called {
		t.Fatal("endpoint should not run after a processor error")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %q", rec.Body.String())
	}
	if body.Status != http.StatusUnauthorized || body.Error != "login required" {
		t.Fatalf("unexpected body %+v", body)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestHandler_PlainErrorHidesDetails(t *testing.T) {
	h := Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		return nil, errors.New("db password is hunter2")
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Fatalf("internal error leaked into body: %q", rec.Body.String())
	}
}

func TestHandler_DeferRunsBeforeRender(t *testing.T) {
	h := Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		return &NoContentRenderer{}, nil
	}, ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		Defer(r.Context(), func(w http.ResponseWriter) {
			http.SetCookie(w, &http.Cookie{Name: "deferred", Value: "1"})
		})
		return next(w, r)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "deferred" {
		t.Fatalf("expected deferred cookie, got %v", cookies)
	}
}

func TestHandler_DeferRunsOnError(t *testing.T) {
	h := Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		return nil, Error(http.StatusForbidden, "", nil)
	}, ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		Defer(r.Context(), func(w http.ResponseWriter) {
			w.Header().Set("X-Deferred", "yes")
		})
		return next(w, r)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if rec.Header().Get("X-Deferred") != "yes" {
		t.Fatal("deferred hook did not run on the error path")
	}
}

func TestError_NoDoubleWrap(t *testing.T) {
	inner := Error(http.StatusBadRequest, "bad", nil)
	outer := Error(http.StatusInternalServerError, "outer", inner)
	var ee *EndpointError
	if !errors.As(outer, &ee) || ee.Status != http.StatusBadRequest {
		t.Fatalf("expected inner status to be preserved, got %v", outer)
	}
}

func TestRedirectRenderer_DefaultsToFound(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if err := (&RedirectRenderer{URL: "/next"}).Render(rec, req); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/next" {
		t.Fatalf("expected Location /next, got %q", loc)
	}
}

func TestJSONRenderer(t *testing.T) {
	h := Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		return &JSONRenderer{Status: http.StatusCreated, Value: map[string]string{"id": "<abc>"}}, nil
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("unexpected content type %q", ct)
	}
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["id"] != "<abc>" {
		t.Fatalf("unexpected body %v", got)
	}
}
