package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-analytics/internal/auth"
	"github.com/suPer8Hu/ai-analytics/internal/common"
)

const (
	UserIDKey = "user_id"
	PlanKey   = "plan"
)

// AuthRequired verifies the bearer token and stores the tenant id and plan.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(h, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "missing bearer token")
			c.Abort()
			return
		}
		claims, err := auth.ParseJWT(strings.TrimSpace(token), secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			c.Abort()
			return
		}
		c.Set(UserIDKey, claims.UserID)
		c.Set(PlanKey, claims.Plan)
		c.Next()
	}
}

// RequirePaidPlan refuses tenants without a plan or on the BASIC plan.
func RequirePaidPlan() gin.HandlerFunc {
	return func(c *gin.Context) {
		plan := c.GetString(PlanKey)
		switch plan {
		case "":
			common.Fail(c, http.StatusForbidden, 40301, "Something went wrong please try again later")
			c.Abort()
			return
		case auth.PlanBasic:
			common.Fail(c, http.StatusForbidden, 40302, "Please upgrade a plan to use this feature")
			c.Abort()
			return
		}
		c.Next()
	}
}
