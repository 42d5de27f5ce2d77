package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/example/meetinghub/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := &config.Config{
		RateLimitWsIP:      "5-M",
		RateLimitWsUser:    "5-M",
		RateLimitAdmission: "5-M",
		RateLimitSignaling: "5-M",
	}

	rl, err := NewRateLimiter(cfg, rc)
	require.NoError(t, err)

	return rl, mr
}

func TestNewRateLimiter_Memory(t *testing.T) {
	cfg := &config.Config{
		RateLimitWsIP:      "5-M",
		RateLimitWsUser:    "5-M",
		RateLimitAdmission: "5-M",
		RateLimitSignaling: "5-M",
	}
	rl, err := NewRateLimiter(cfg, nil)
	assert.NoError(t, err)
	assert.NotNil(t, rl)
}

func TestCheckWebSocket_IP(t *testing.T) {
	rl, mr := newTestLimiter(t)
	defer mr.Close()

	gin.SetMode(gin.TestMode)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Request, _ = http.NewRequest("GET", "/ws", nil)

	for i := 0; i < 5; i++ {
		assert.True(t, rl.CheckWebSocket(ctx))
	}

	assert.False(t, rl.CheckWebSocket(ctx))
}

func TestCheckWebSocketUser(t *testing.T) {
	rl, mr := newTestLimiter(t)
	defer mr.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		assert.NoError(t, rl.CheckWebSocketUser(ctx, "user1"))
	}

	assert.Error(t, rl.CheckWebSocketUser(ctx, "user1"))
}

func TestCheckEvent_Admission(t *testing.T) {
	rl, mr := newTestLimiter(t)
	defer mr.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		assert.NoError(t, rl.CheckEvent(ctx, "admission", "user1"))
	}

	assert.Error(t, rl.CheckEvent(ctx, "admission", "user1"))
}

func TestCheckEvent_UnknownClass(t *testing.T) {
	rl, mr := newTestLimiter(t)
	defer mr.Close()

	err := rl.CheckEvent(context.Background(), "bogus", "user1")
	assert.Error(t, err)
}

func TestCheckWebSocket_FailsOpenOnStoreError(t *testing.T) {
	rl, mr := newTestLimiter(t)
	mr.Close() // simulate redis outage

	gin.SetMode(gin.TestMode)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Request, _ = http.NewRequest("GET", "/ws", nil)

	assert.True(t, rl.CheckWebSocket(ctx), "should fail open when the store is unreachable")
}
