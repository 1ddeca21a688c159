package middleware

import (
	"net/http"

	"supa_discord/pkg/constants"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// viewIDKey gin.Context 中视图 ID 的键
const viewIDKey = "view_id"

// ViewIdentity 为每个浏览器分配视图 ID
// 从 cookie 读取，缺失或格式不对时生成新的 uuid 并写回 cookie
func ViewIdentity(secureCookie bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(constants.ViewCookieName)
		if err != nil || uuid.Validate(id) != nil {
			id = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(constants.ViewCookieName, id, constants.ViewCookieMaxAge, "/", "", secureCookie, true)
		}
		c.Set(viewIDKey, id)
		c.Next()
	}
}

// GetViewID 读取 ViewIdentity 写入的视图 ID
func GetViewID(c *gin.Context) string {
	return c.GetString(viewIDKey)
}
