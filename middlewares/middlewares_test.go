package middlewares

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"paygate/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func init() { gin.SetMode(gin.TestMode) }

func token(t *testing.T, uid uint, role string) string {
	t.Helper()
	tok, err := utils.GenerateToken(uid, role, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/staff", AuthMiddleware(testSecret, utils.RoleStaff, utils.RoleAdmin), func(c *gin.Context) {
		c.String(http.StatusOK, utils.CurrentActor(c))
	})

	cases := []struct {
		name   string
		header string
		want   int
		body   string
	}{
		{"no header", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized, ""},
		{"wrong role", "Bearer " + token(t, 5, utils.RoleUser), http.StatusForbidden, ""},
		{"staff", "Bearer " + token(t, 7, utils.RoleStaff), http.StatusOK, "staff:7"},
		{"admin", "Bearer " + token(t, 1, utils.RoleAdmin), http.StatusOK, "admin:1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/staff", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := serve(r, req)
			assert.Equal(t, tc.want, w.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, w.Body.String())
			}
		})
	}
}

func TestAuthMiddleware_RejectsOtherSecret(t *testing.T) {
	r := gin.New()
	r.GET("/x", AuthMiddleware(testSecret), func(c *gin.Context) { c.Status(http.StatusOK) })

	other, err := utils.GenerateToken(1, utils.RoleAdmin, "other-secret", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
}

func TestWSAuthMiddleware_QueryToken(t *testing.T) {
	r := gin.New()
	r.GET("/ws", WSAuthMiddleware(testSecret), func(c *gin.Context) {
		c.String(http.StatusOK, utils.CurrentActor(c))
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/ws?token="+token(t, 3, utils.RoleUser), nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user:3", w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMemoryLimiter_Window(t *testing.T) {
	l := NewMemoryLimiter(2, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, retry, _ := l.Allow(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retry)

	ok, _, _ = l.Allow(ctx, "other")
	assert.True(t, ok, "keys are independent")

	now = now.Add(time.Minute)
	ok, _, _ = l.Allow(ctx, "k")
	assert.True(t, ok, "new window")
}

func TestMemoryLimiter_DropsExpiredKeys(t *testing.T) {
	l := NewMemoryLimiter(5, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		_, _, err := l.Allow(ctx, fmt.Sprintf("process:ip:10.0.0.%d", i))
		require.NoError(t, err)
	}
	assert.Len(t, l.hits, 100)

	now = now.Add(30 * time.Second)
	_, _, _ = l.Allow(ctx, "process:ip:10.0.1.1")
	assert.Len(t, l.hits, 101, "live windows are kept")

	now = now.Add(45 * time.Second)
	_, _, _ = l.Allow(ctx, "process:ip:10.0.1.2")
	assert.Len(t, l.hits, 2, "only windows still open remain")
}

func TestRateLimit_Middleware(t *testing.T) {
	r := gin.New()
	r.POST("/pay", RateLimit(NewMemoryLimiter(1, time.Minute), "process", zerolog.Nop()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodPost, "/pay", nil)).Code)
	w := serve(r, httptest.NewRequest(http.MethodPost, "/pay", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")
}

func TestRateLimit_RedisDownFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	r := gin.New()
	r.POST("/pay", RateLimit(NewRedisLimiter(client, 1, time.Minute), "process", zerolog.Nop()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodPost, "/pay", nil)).Code)
	}
}
