package http

import (
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"spendwise/internal/baas"
	"spendwise/internal/core"
	"spendwise/internal/placeholder"
	"spendwise/internal/services"
	"spendwise/internal/session"
	"spendwise/internal/view"
)

const defaultCurrency = "USD"

// sanitizeInput removes potentially dangerous characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}

// safeNext accepts only same-site absolute paths; anything else sends the
// user home.
func safeNext(next string) string {
	if next == "" || next[0] != '/' || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	if strings.ContainsAny(next, "\r\n\t") {
		return "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return next
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// userMessage picks the text shown to the user for a failed action. Backend
// messages are shown verbatim; unexpected failures get a generic line.
func userMessage(err error) string {
	var missing *services.ProcedureMissingError
	var be *baas.Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &missing):
		return missing.Error()
	case errors.Is(err, view.ErrSampleRow):
		return "Sample data cannot be changed. Add your own entries first."
	case errors.Is(err, session.ErrNoSession):
		return "Your session has expired. Please sign in again."
	case isValidation(err):
		return validationMessage(err)
	case errors.As(err, &be):
		return baas.Message(err)
	case errors.Is(err, baas.ErrNotFound):
		return "Not found."
	}
	return "Something went wrong. Please try again."
}

// validationMessage is the sentinel's text with an upper-case first letter.
func validationMessage(err error) string {
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			msg := v.Error()
			r, size := utf8.DecodeRuneInString(msg)
			return string(unicode.ToUpper(r)) + msg[size:]
		}
	}
	return err.Error()
}

// statusFor maps an action error onto a response status.
func statusFor(err error) int {
	switch {
	case isValidation(err), errors.Is(err, view.ErrSampleRow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, baas.ErrUnauthorized), errors.Is(err, session.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, baas.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, baas.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, baas.ErrInvalidRequest), errors.Is(err, baas.ErrConflict):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

var templateFuncs = template.FuncMap{
	"money": func(d decimal.Decimal) string {
		return core.FormatAmount(d, "")
	},
	"moneyIn": func(d decimal.Decimal, currency string) string {
		return core.FormatAmount(d, currency)
	},
	"percent": func(d decimal.Decimal) string {
		return d.Round(0).String()
	},
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Local().Format("Jan 2, 2006")
	},
	"datetime": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Local().Format("2006-01-02 15:04")
	},
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
	"isSample": placeholder.IsSample,
	"stars": func(n int) string {
		if n < 0 {
			n = 0
		}
		if n > 5 {
			n = 5
		}
		return strings.Repeat("★", n) + strings.Repeat("☆", 5-n)
	},
}
