package webhooks

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

const defaultMaxBodyBytes int64 = 1 << 20

type response struct {
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EchoHandler mounts the processor as an echo route. Bodies over maxBodyBytes
// are rejected with 413 before verification.
func EchoHandler(processor *Processor, maxBodyBytes int64) echo.HandlerFunc {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes+1))
		if err != nil {
			return c.JSON(http.StatusBadRequest, response{Status: "unreadable body"})
		}
		if int64(len(body)) > maxBodyBytes {
			return c.JSON(http.StatusRequestEntityTooLarge, response{Status: "body too large"})
		}

		result, _ := processor.Process(c.Request().Context(), InboundRequest{
			Headers: flattenHeaders(c.Request().Header),
			Body:    body,
			Metadata: map[string]any{
				"remote_addr": c.RealIP(),
			},
		})
		status := result.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return c.JSON(status, response{Status: statusLabel(status, result), Metadata: result.Metadata})
	}
}

func flattenHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) == 0 {
			continue
		}
		out[key] = values[0]
	}
	return out
}

func statusLabel(status int, result InboundResult) string {
	switch {
	case status == http.StatusOK && result.Metadata["deduped"] == true:
		return "deduped"
	case status == http.StatusOK && result.Metadata["ignored"] == true:
		return "ignored"
	case status == http.StatusOK:
		return "processed"
	case status == http.StatusUnauthorized:
		return "invalid signature"
	case status == http.StatusBadRequest:
		return "invalid payload"
	case status == http.StatusConflict:
		return "in progress"
	default:
		return "error"
	}
}
