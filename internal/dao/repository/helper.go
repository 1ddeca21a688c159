package repository

import (
	"net/http"

	"supa_discord/internal/supabase"
	"supa_discord/pkg/errorx"
)

// wrapBackendErrorf 包装后端错误
// 根据状态码返回不同的错误码：
//   - 404 -> CodeNotFound
//   - 401 -> CodeUnauthorized
//   - 其他 -> code
func wrapBackendErrorf(err error, code int, format string, args ...any) error {
	if err == nil {
		return nil
	}
	switch supabase.ErrorStatus(err) {
	case http.StatusNotFound:
		code = errorx.CodeNotFound
	case http.StatusUnauthorized:
		code = errorx.CodeUnauthorized
	}
	return errorx.Wrapf(err, code, format, args...)
}
