package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"uk.co.dudmesh.herald/internal/model"
	"uk.co.dudmesh.herald/internal/publisher/email"
	"uk.co.dudmesh.herald/internal/service/publish"
)

type PublishService interface {
	Dispatch(ctx context.Context, draft *model.Draft) *model.PublishReport
	Report(ctx context.Context, draftID string) (*model.PublishReport, error)
	DraftStatus(ctx context.Context, draftID string) (model.DraftStatus, error)
	SendBulk(ctx context.Context, req email.BulkRequest) (*model.DeliverySummary, error)
	Health(ctx context.Context, probe bool) []publish.ChannelStatus
}

// Routes registers the API on server. Everything except /health sits behind
// auth when it is non-nil.
func Routes(server *echo.Echo, svc PublishService, auth echo.MiddlewareFunc) {
	server.GET("/health", Health(svc))

	api := server.Group("")
	if auth != nil {
		api.Use(auth)
	}
	api.POST("/publish", Publish(svc))
	api.GET("/reports/:draftID", GetReport(svc))
	api.GET("/drafts/:draftID/status", GetDraftStatus(svc))
	api.POST("/email/bulk", SendBulk(svc))
}

type Validator struct {
	validator *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v}
}

func (v *Validator) Validate(i interface{}) error {
	err := v.validator.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	messages := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		messages = append(messages, describeField(fe))
	}
	return echo.NewHTTPError(http.StatusBadRequest, strings.Join(messages, "; ")).SetInternal(err)
}

func describeField(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), strings.SplitN(fe.Namespace(), ".", 2)[0]+".")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "unique":
		return field + " must not contain duplicates"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "url":
		return field + " must be a URL"
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

type ErrorResponse struct {
	Status string      `json:"status"`
	Error  ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorHandler writes every error in the API's error envelope.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, code, message := describeError(err)
	requestID := c.Response().Header().Get(echo.HeaderXRequestID)

	event := log.JSON{"event": "request_failed", "method": c.Request().Method, "path": c.Path(), "status": status, "code": code, "request_id": requestID, "error": err.Error()}
	if status >= http.StatusInternalServerError {
		log.Errorj(event)
	} else {
		log.Warnj(event)
	}

	body := ErrorResponse{Status: "error", Error: ErrorDetail{Code: code, Message: message, RequestID: requestID}}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		log.Errorj(log.JSON{"event": "error_response_failed", "request_id": requestID, "error": err.Error()})
	}
}

func describeError(err error) (int, string, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, codeFor(he.Code), fmt.Sprint(he.Message)
	}
	if errors.Is(err, model.ErrorReportNotFound) {
		return http.StatusNotFound, codeFor(http.StatusNotFound), err.Error()
	}

	var pe *model.PublishError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case model.ErrorKindValidation:
			return http.StatusBadRequest, "validation_error", err.Error()
		case model.ErrorKindAuth:
			return http.StatusBadGateway, "channel_auth_error", err.Error()
		case model.ErrorKindUnavailable:
			return http.StatusServiceUnavailable, "channel_unavailable", err.Error()
		default:
			return http.StatusBadGateway, "channel_error", err.Error()
		}
	}

	return http.StatusInternalServerError, codeFor(http.StatusInternalServerError), http.StatusText(http.StatusInternalServerError)
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	}
	if status >= http.StatusInternalServerError {
		return "internal_error"
	}
	return "error"
}
