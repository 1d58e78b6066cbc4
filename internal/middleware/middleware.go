package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 上下文键
const (
	CtxRequestID   = "request_id"
	CtxUserID      = "user_id"
	CtxPermissions = "permissions"
	CtxClaims      = "claims"
)

// AdminRole 拥有全部SRM权限的角色
const AdminRole = "srm_admin"

// 与 handler 包的业务错误码保持一致
const (
	codeUnauthorized  = 40100
	codeForbidden     = 40300
	codeShareNotFound = 40410
)

func abort(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code/100, gin.H{
		"code":    code,
		"message": message,
	})
}

// Logger 访问日志，外部分享链路额外记录 share_code
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("ip", c.ClientIP()),
			zap.String("user-agent", c.Request.UserAgent()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(CtxRequestID)),
		}
		if uid := c.GetString(CtxUserID); uid != "" {
			fields = append(fields, zap.String("user_id", uid))
		}
		if code := c.Param("shareCode"); code != "" {
			fields = append(fields, zap.String("share_code", code))
		}

		switch {
		case status >= 500:
			logger.Error("Server error", fields...)
		case status >= 400:
			logger.Warn("Client error", fields...)
		default:
			logger.Info("Request", fields...)
		}
	}
}

// CORS 跨域中间件
func CORS() gin.HandlerFunc {
	headers := strings.Join([]string{
		"Content-Type", "Content-Length", "Accept-Encoding", "Authorization",
		"Accept", "Origin", "Cache-Control", "X-Requested-With", "X-Request-ID",
	}, ", ")
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", headers)
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Expose-Headers", "X-Request-ID, Content-Disposition")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestID 请求ID中间件
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(CtxRequestID, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// JWTClaims 内部用户令牌
type JWTClaims struct {
	UserID      string   `json:"uid"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"perms"`
	jwt.RegisteredClaims
}

// HasPermission 管理员角色或通配符视为拥有全部权限
func (c *JWTClaims) HasPermission(perm string) bool {
	for _, r := range c.Roles {
		if r == AdminRole {
			return true
		}
	}
	for _, p := range c.Permissions {
		if p == perm || p == "*" {
			return true
		}
	}
	return false
}

// bearerToken 优先取 Authorization 头，SSE 无法设置请求头时回退到 ?token=
func bearerToken(c *gin.Context) string {
	if scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " "); ok && scheme == "Bearer" {
		return token
	}
	return c.Query("token")
}

// JWTAuth 内部接口认证，仅接受 HS256
func JWTAuth(secret string) gin.HandlerFunc {
	keyFunc := func(*jwt.Token) (interface{}, error) { return []byte(secret), nil }
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			abort(c, codeUnauthorized, "Authorization is required")
			return
		}

		claims := &JWTClaims{}
		token, err := parser.ParseWithClaims(raw, claims, keyFunc)
		if err != nil || !token.Valid {
			abort(c, codeUnauthorized+2, "Invalid or expired token")
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set("user_name", claims.Name)
		c.Set("roles", claims.Roles)
		c.Set(CtxPermissions, claims.Permissions)
		c.Set(CtxClaims, claims)
		c.Next()
	}
}

// CurrentClaims 取 JWTAuth 写入的令牌信息
func CurrentClaims(c *gin.Context) (*JWTClaims, bool) {
	v, ok := c.Get(CtxClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*JWTClaims)
	return claims, ok
}

// RequirePermission 需任一权限
func RequirePermission(perms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			abort(c, codeForbidden, "No permissions found")
			return
		}
		for _, p := range perms {
			if claims.HasPermission(p) {
				c.Next()
				return
			}
		}
		abort(c, codeForbidden+2, "Permission denied: "+strings.Join(perms, "|"))
	}
}

var shareCodePattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// PublicShareGuard 外部分享路由：格式不合法的分享码直接按不存在处理，响应禁止缓存
func PublicShareGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		if code := c.Param("shareCode"); code != "" && !shareCodePattern.MatchString(code) {
			abort(c, codeShareNotFound, "分享链接不存在")
			return
		}
		c.Next()
	}
}
