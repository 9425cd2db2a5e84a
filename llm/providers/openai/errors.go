package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BaSui01/companion/llm"
	openai "github.com/sashabaranov/go-openai"
)

// mapError 将 go-openai 错误转换为 *llm.Error
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return mapHTTPError(apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return mapHTTPError(reqErr.HTTPStatusCode, reqErr.Error(), err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.Error{
			Code:      llm.ErrUpstreamTimeout,
			Message:   "upstream request timed out",
			Retryable: true,
			Provider:  providerName,
			Cause:     err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	// 连接失败等网络错误
	return &llm.Error{
		Code:      llm.ErrUpstreamError,
		Message:   err.Error(),
		Retryable: true,
		Provider:  providerName,
		Cause:     err,
	}
}

func mapHTTPError(status int, msg string, cause error) *llm.Error {
	e := &llm.Error{
		Message:    msg,
		HTTPStatus: status,
		Provider:   providerName,
		Cause:      cause,
	}

	switch {
	case status == http.StatusUnauthorized:
		e.Code = llm.ErrUnauthorized
	case status == http.StatusForbidden:
		e.Code = llm.ErrForbidden
	case status == http.StatusTooManyRequests:
		e.Code = llm.ErrRateLimited
		e.Retryable = true
	case status == http.StatusRequestTimeout:
		e.Code = llm.ErrUpstreamTimeout
		e.Retryable = true
	case status == http.StatusBadRequest:
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "quota") || strings.Contains(lower, "credit") {
			e.Code = llm.ErrQuotaExceeded
		} else {
			e.Code = llm.ErrInvalidRequest
		}
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		e.Code = llm.ErrProviderUnavailable
		e.Retryable = true
	case status >= 500:
		e.Code = llm.ErrUpstreamError
		e.Retryable = true
	default:
		e.Code = llm.ErrUpstreamError
	}
	return e
}
