package api

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"kanban-api/domain"
)

func newTestEcho() *echo.Echo {
	e := echo.New()
	e.JSONSerializer = JSONSerializer{}
	e.Validator = NewValidator()
	return e
}

func decodeFrom(t *testing.T, body string, dst any) error {
	t.Helper()
	e := newTestEcho()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c := e.NewContext(req, httptest.NewRecorder())
	return decodeBody(c, dst)
}

func validationFields(t *testing.T, err error) []domain.FieldError {
	t.Helper()
	var de *domain.Error
	if !errors.As(err, &de) || !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	return de.Fields
}

func TestDecodeBodyRejectsUnknownFields(t *testing.T) {
	var req titleRequest
	err := decodeFrom(t, `{"title":"x","extra":1}`, &req)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDecodeBodyRejectsOversizedBody(t *testing.T) {
	var req titleRequest
	body := `{"title":"` + strings.Repeat("a", maxBodySize) + `"}`
	err := decodeFrom(t, body, &req)
	var de *domain.Error
	if !errors.As(err, &de) || de.Message != "Request body too large" {
		t.Fatalf("expected too large error, got %v", err)
	}
}

func TestDecodeBodyValidatesWithJSONNames(t *testing.T) {
	var req titleRequest
	err := decodeFrom(t, `{"title":"`+strings.Repeat("a", 201)+`"}`, &req)
	fields := validationFields(t, err)
	if len(fields) != 1 || fields[0].Field != "title" {
		t.Fatalf("unexpected fields: %#v", fields)
	}
	if fields[0].Message != "title must be at most 200 characters" {
		t.Fatalf("unexpected message %q", fields[0].Message)
	}
}

func TestDecodeBodyValidatesOptionalFields(t *testing.T) {
	var req updateCardRequest
	err := decodeFrom(t, `{"categoryTag":"`+strings.Repeat("x", 51)+`"}`, &req)
	fields := validationFields(t, err)
	if fields[0].Field != "categoryTag" {
		t.Fatalf("unexpected field %q", fields[0].Field)
	}

	req = updateCardRequest{}
	if err := decodeFrom(t, `{"categoryTag":null,"content":"ok"}`, &req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !req.CategoryTag.Set || req.CategoryTag.Value != nil {
		t.Fatalf("expected explicit null, got %#v", req.CategoryTag)
	}
	if req.Color.Set {
		t.Fatalf("expected absent color to stay unset")
	}
}

func TestMoveColumnRequiresColumnID(t *testing.T) {
	var req moveColumnRequest
	fields := validationFields(t, decodeFrom(t, `{"newOrder":1}`, &req))
	if fields[0].Message != "columnId is required" {
		t.Fatalf("unexpected message %q", fields[0].Message)
	}
}

func TestParseDueDateLayouts(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{raw: "2024-03-01", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{raw: "2024-03-01T10:30", want: time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)},
		{raw: "2024-03-01T10:30:00+02:00", want: time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseDueDate(tt.raw)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.raw, err)
		}
		if !got.Equal(tt.want) || got.Location() != time.UTC {
			t.Fatalf("%s: got %v want %v", tt.raw, got, tt.want)
		}
	}
	if _, err := parseDueDate("next tuesday"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDueDatePatch(t *testing.T) {
	empty := ""
	date := "2024-03-01"

	got, err := dueDatePatch(domain.Optional[string]{})
	if err != nil || got.Set {
		t.Fatalf("absent should stay absent: %#v %v", got, err)
	}
	got, err = dueDatePatch(domain.Optional[string]{Set: true, Value: &empty})
	if err != nil || !got.Set || got.Value != nil {
		t.Fatalf("empty string should clear: %#v %v", got, err)
	}
	got, err = dueDatePatch(domain.Some(date))
	if err != nil || !got.Set || got.Value == nil || got.Value.Day() != 1 {
		t.Fatalf("unexpected patch: %#v %v", got, err)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{name: "notFound", err: domain.NotFound("Board not found"), code: http.StatusNotFound, msg: "Board not found"},
		{name: "validation", err: domain.Validation("Title is required"), code: http.StatusBadRequest, msg: "Title is required"},
		{name: "credentials", err: domain.Unauthorized("Invalid credentials"), code: http.StatusBadRequest, msg: "Invalid credentials"},
		{name: "conflict", err: domain.Conflict("User already exists"), code: http.StatusBadRequest, msg: "User already exists"},
		{name: "echo", err: echo.NewHTTPError(http.StatusMethodNotAllowed), code: http.StatusMethodNotAllowed},
		{name: "unknown", err: errors.New("disk on fire"), code: http.StatusInternalServerError, msg: serverErrorMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := statusFor(tt.err)
			if code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, code)
			}
			if tt.msg != "" && body.Error != tt.msg {
				t.Fatalf("expected %q, got %q", tt.msg, body.Error)
			}
		})
	}
}

func TestGzipRequestMiddleware(t *testing.T) {
	e := newTestEcho()
	var got string
	e.POST("/", func(c echo.Context) error {
		data, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		got = string(data)
		return c.NoContent(http.StatusNoContent)
	}, GzipRequestMiddleware())

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(`{"title":"zipped"}`)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentEncoding, "identity, gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got != `{"title":"zipped"}` {
		t.Fatalf("unexpected body %q", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not gzip"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid gzip, got %d", rec.Code)
	}
}
