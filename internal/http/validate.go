package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxgraph/internal/embeddings"
	"github.com/fyrsmithlabs/ctxgraph/internal/graph"
	"github.com/fyrsmithlabs/ctxgraph/internal/logging"
	"github.com/fyrsmithlabs/ctxgraph/internal/retriever"
	"github.com/fyrsmithlabs/ctxgraph/internal/session"
)

// requestValidator adapts validator.Validate to echo.Validator.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON or query names instead of Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "query", "param"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})

	mustRegister(v, "agentid", func(fl validator.FieldLevel) bool {
		return logging.ValidateID(fl.Field().String(), "agent_id") == nil
	})
	mustRegister(v, "strategy", func(fl validator.FieldLevel) bool {
		return retriever.Strategy(fl.Field().String()).Valid()
	})
	mustRegister(v, "edgekind", func(fl validator.FieldLevel) bool {
		return graph.EdgeKind(fl.Field().String()).Valid()
	})
	mustRegister(v, "nodekind", func(fl validator.FieldLevel) bool {
		return graph.NodeKind(fl.Field().String()).Valid()
	})

	return &requestValidator{validate: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("registering %s validator: %v", tag, err))
	}
}

// Validate implements echo.Validator.
func (rv *requestValidator) Validate(i interface{}) error {
	return rv.validate.Struct(i)
}

// bindAndValidate binds path, query and body into req and validates it.
// Failures are returned as 400 errors.
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "invalid request body", Internal: err}
	}
	if err := c.Validate(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, describeFieldError(fe))
			}
			return &echo.HTTPError{Code: http.StatusBadRequest, Message: ErrorResponse{Error: "validation failed", Details: details}}
		}
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: err.Error()}
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag())
}

// toHTTPError maps engine and session errors onto status codes.
func toHTTPError(err error) *echo.HTTPError {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, embeddings.ErrProvider):
		code = http.StatusBadGateway
	case errors.Is(err, graph.ErrEndpointNotFound), errors.Is(err, session.ErrSessionNotFound):
		code = http.StatusNotFound
	case errors.Is(err, retriever.ErrInvalidInput), errors.Is(err, session.ErrAgentRequired):
		code = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		code = http.StatusServiceUnavailable
	}
	return &echo.HTTPError{Code: code, Message: err.Error(), Internal: err}
}

// errorHandler renders every error as an ErrorResponse.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	body := ErrorResponse{Error: http.StatusText(code)}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		switch msg := he.Message.(type) {
		case ErrorResponse:
			body = msg
		case string:
			body = ErrorResponse{Error: msg}
		default:
			body = ErrorResponse{Error: fmt.Sprint(msg)}
		}
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			append(logging.ContextFields(c.Request().Context()), zap.Error(err))...)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		s.logger.Warn("writing error response", zap.Error(err))
	}
}
