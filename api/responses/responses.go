package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/angelmondragon/storefront-backend/pkg/alerts"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

type reporterHolder struct {
	alerts.Reporter
}

var reporter atomic.Value

// UseReporter sets where unexpected request failures are raised.
func UseReporter(r alerts.Reporter) {
	if r == nil {
		return
	}
	reporter.Store(reporterHolder{r})
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, SuccessEnvelope{Data: data})
}

func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteError maps err to its public status and envelope. Internal and dependency failures
// are logged with their database diagnostics and raised to the alert reporter.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	if pkgerrors.IsExpected(typed) {
		if m := typed.Message(); m != "" {
			msg = m
		}
	}
	payload := ErrorEnvelope{Error: APIError{Code: string(typed.Code()), Message: msg}}
	if meta.DetailsAllowed {
		payload.Error.Details = typed.Details()
	}

	if !pkgerrors.IsExpected(typed) {
		fields := pkgerrors.Diagnose(err).Fields()
		if logg != nil {
			logg.Error(logg.WithFields(ctx, fields), "request.error", err)
		}
		if held, ok := reporter.Load().(reporterHolder); ok {
			held.Report(ctx, err, fields)
		}
	} else if logg != nil {
		logg.Info(logg.WithField(ctx, "error_code", string(typed.Code())), "request.rejected")
	}

	writeJSON(w, meta.HTTPStatus, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
