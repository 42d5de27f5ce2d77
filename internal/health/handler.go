// Package health exposes liveness and readiness probe endpoints for the hub.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/meetinghub/internal/bus"
	"github.com/example/meetinghub/internal/logging"
	"go.uber.org/zap"
)

// MeetingStoreChecker checks the health of the Meeting Store dependency.
type MeetingStoreChecker interface {
	Check(ctx context.Context, addr string) string
}

// DefaultMeetingStoreChecker verifies gRPC connectivity using the standard
// health-checking protocol (grpc.health.v1.Health).
type DefaultMeetingStoreChecker struct{}

func (c *DefaultMeetingStoreChecker) Check(ctx context.Context, addr string) string {
	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		logging.Error(ctx, "failed to connect to Meeting Store for health check", zap.Error(err), zap.String("addr", addr))
		return "unhealthy"
	}
	defer func() { _ = conn.Close() }()

	healthClient := healthpb.NewHealthClient(conn)

	resp, err := healthClient.Check(ctx, &healthpb.HealthCheckRequest{Service: ""})
	if err != nil {
		logging.Error(ctx, "Meeting Store health check RPC failed", zap.Error(err))
		return "unhealthy"
	}

	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		logging.Warn(ctx, "Meeting Store is not serving", zap.String("status", resp.Status.String()))
		return "unhealthy"
	}

	return "healthy"
}

// Handler serves the liveness and readiness endpoints.
type Handler struct {
	redisService        *bus.Service
	meetingStoreAddr    string
	meetingStoreHealth  bool
	meetingStoreChecker MeetingStoreChecker
}

// NewHandler constructs a Handler. The Meeting Store health probe is skipped
// entirely if MEETING_STORE_HEALTH_ADDR is unset.
func NewHandler(redisService *bus.Service) *Handler {
	addr := os.Getenv("MEETING_STORE_HEALTH_ADDR")

	return &Handler{
		redisService:        redisService,
		meetingStoreAddr:    addr,
		meetingStoreHealth:  addr != "",
		meetingStoreChecker: &DefaultMeetingStoreChecker{},
	}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness returns 200 if the process is alive; it performs no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	c.JSON(http.StatusOK, response)
}

// Readiness returns 200 only if all critical dependencies are healthy, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	if h.meetingStoreHealth {
		storeStatus := h.checkMeetingStore(ctx)
		checks["meeting_store"] = storeStatus
		if storeStatus != "healthy" {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redisService == nil {
		return "healthy"
	}

	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "redis health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}

func (h *Handler) checkMeetingStore(ctx context.Context) string {
	if h.meetingStoreChecker == nil {
		return "unhealthy"
	}
	return h.meetingStoreChecker.Check(ctx, h.meetingStoreAddr)
}

// HealthCheckResponse is a generic health check response for simple probes.
type HealthCheckResponse struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// MarshalJSON gives ReadinessResponse stable field ordering in JSON output.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(&r),
	})
}
