package request

// LoginLinkRequest 请求发送登录链接
// 使用位置:
//   - internal/handler/auth_handler.go: RequestLoginLink
type LoginLinkRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// VerifyCodeRequest 用邮件中的一次性验证码登录
// 使用位置:
//   - internal/handler/auth_handler.go: VerifyCode
type VerifyCodeRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required,min=6,max=10"`
}

// SessionTokensRequest 登录链接回跳页面带回的 token
// 使用位置:
//   - internal/handler/auth_handler.go: CompleteLink
type SessionTokensRequest struct {
	AccessToken  string `json:"access_token" binding:"required"`
	RefreshToken string `json:"refresh_token" binding:"required"`
}
