package supabase

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/valyala/fastjson"
)

// APIError 后端返回的错误
// GoTrue 使用 error / error_description 或 msg / error_code，
// PostgREST 使用 code / message / details / hint，这里统一成一种结构
type APIError struct {
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "supabase: %d", e.Status)
	if e.Code != "" {
		fmt.Fprintf(&b, " %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Details != "" {
		fmt.Fprintf(&b, " (%s)", e.Details)
	}
	return b.String()
}

// Description 面向用户的错误描述
func (e *APIError) Description() string {
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Status)
}

// ErrorStatus 返回错误链中 APIError 的 HTTP 状态码，没有则返回 0
func ErrorStatus(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Describe 返回用户可读的错误描述，非 APIError 时返回 err.Error()
func Describe(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Description()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	v, err := fastjson.ParseBytes(body)
	if err != nil || v.Type() != fastjson.TypeObject {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		return apiErr
	}

	// 优先级与浏览器端 SDK 一致：error_description > msg > message > error
	for _, key := range []string{"error_description", "msg", "message", "error"} {
		if s := stringField(v, key); s != "" {
			apiErr.Message = s
			break
		}
	}
	for _, key := range []string{"error_code", "code"} {
		if s := stringField(v, key); s != "" {
			apiErr.Code = s
			break
		}
	}
	apiErr.Details = stringField(v, "details")
	apiErr.Hint = stringField(v, "hint")
	return apiErr
}

// stringField 读取字符串或数字字段
func stringField(v *fastjson.Value, key string) string {
	f := v.Get(key)
	if f == nil {
		return ""
	}
	switch f.Type() {
	case fastjson.TypeString:
		return string(f.GetStringBytes())
	case fastjson.TypeNumber:
		return f.String()
	default:
		return ""
	}
}
