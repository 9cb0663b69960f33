package api

import (
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, errorEnvelope{
		Error: responseError{
			Message: msg,
			Type:    errType,
			Param:   param,
			Code:    code,
		},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// normalizeInput accepts the two wire forms of the input field: a single
// string or an array of strings.
func normalizeInput(input any) ([]string, error) {
	switch v := input.(type) {
	case string:
		return []string{v}, nil
	case []any:
		if len(v) == 0 {
			return nil, newInvalidRequest("input must not be empty")
		}
		texts := make([]string, 0, len(v))
		for _, raw := range v {
			s, ok := raw.(string)
			if !ok {
				return nil, newInvalidRequest("input array must contain only strings")
			}
			texts = append(texts, s)
		}
		return texts, nil
	case []string:
		if len(v) == 0 {
			return nil, newInvalidRequest("input must not be empty")
		}
		return v, nil
	case nil:
		return nil, newInvalidRequest("input is required")
	default:
		return nil, newInvalidRequest("input must be a string or an array of strings")
	}
}
