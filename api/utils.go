package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"kanban-api/domain"
)

var errInvalidBody = domain.Validation("Invalid request body")

// decodeBody strictly decodes at most maxBodySize bytes of JSON into dst and
// runs struct validation.
func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return errInvalidBody
	}
	if len(data) > maxBodySize {
		return domain.Validation("Request body too large")
	}
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errInvalidBody
	}
	return c.Validate(dst)
}

// JSONSerializer plugs sonic into echo's c.JSON and c.Bind.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (JSONSerializer) Deserialize(c echo.Context, i any) error {
	err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body").SetInternal(err)
	}
	return nil
}

// Validator adapts go-playground/validator to echo.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Optional fields validate as their value, or the zero value when unset.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if o, ok := field.Interface().(domain.Optional[string]); ok && o.Value != nil {
			return *o.Value
		}
		return ""
	}, domain.Optional[string]{})
	return &Validator{v: v}
}

func (cv *Validator) Validate(i any) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]domain.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, domain.FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return domain.Validation(fields[0].Message, fields...)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// dueDateLayouts are accepted for dueDate, most specific first.
var dueDateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04", "2006-01-02"}

func parseDueDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, domain.Validation("Invalid due date", domain.FieldError{Field: "dueDate", Message: "must be an RFC 3339 timestamp or YYYY-MM-DD"})
}

func parseDueDatePtr(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := parseDueDate(*raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// dueDatePatch converts the wire form of a due date patch. An empty string
// clears the date like null does.
func dueDatePatch(o domain.Optional[string]) (domain.Optional[time.Time], error) {
	if !o.Set {
		return domain.Optional[time.Time]{}, nil
	}
	t, err := parseDueDatePtr(o.Value)
	if err != nil {
		return domain.Optional[time.Time]{}, err
	}
	if t == nil {
		return domain.Null[time.Time](), nil
	}
	return domain.Some(*t), nil
}

func parseStatusPtr(raw *string) (*domain.Status, error) {
	if raw == nil {
		return nil, nil
	}
	s, err := domain.ParseStatus(*raw)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
