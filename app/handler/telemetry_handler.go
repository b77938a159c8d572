package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fleetscale/pkg/autoscaler"
	"fleetscale/pkg/logger"
)

// TelemetryHandler implements the control plane's external HTTP surface:
// the Request Aggregator pushes observed request timestamps here, and
// orchestration/monitoring tooling reads replica state and triggers
// shutdown through it.
type TelemetryHandler struct {
	loop         *autoscaler.ControlLoop
	classes      []autoscaler.AcceleratorClass // ordered class list for ingest; the single accelerator class for homogeneous
	shutdownFunc func()
}

// NewTelemetryHandler creates a telemetry handler bound to one service's
// control loop. classes is the catalogue's class ordering used to
// de-multiplex a heterogeneous ingest_requests payload; for a
// rate-threshold (single-class) service pass its one accelerator class,
// under which a flat payload is recorded.
func NewTelemetryHandler(loop *autoscaler.ControlLoop, classes []autoscaler.AcceleratorClass, shutdownFunc func()) *TelemetryHandler {
	return &TelemetryHandler{loop: loop, classes: classes, shutdownFunc: shutdownFunc}
}

// IngestRequests handles POST /control_plane/ingest_requests.
//
// Body is either `{"timestamps": [float, ...]}` for a homogeneous
// (single-accelerator) service, or `{"timestamps": [[float,...], ...]}`
// with one sub-array per accelerator class, ordered per the configured
// catalogue, for a heterogeneous service.
func (h *TelemetryHandler) IngestRequests(c *gin.Context) {
	var raw struct {
		Timestamps json.RawMessage `json:"timestamps"`
	}
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	now := time.Now()

	var flat []float64
	if err := json.Unmarshal(raw.Timestamps, &flat); err == nil {
		class := autoscaler.AcceleratorClass("")
		if len(h.classes) > 0 {
			class = h.classes[0]
		}
		h.loop.IngestRequests(now, class, int64(len(flat)))
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
		return
	}

	var nested [][]float64
	if err := json.Unmarshal(raw.Timestamps, &nested); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timestamps must be a flat or nested array of numbers"})
		return
	}
	if len(nested) != len(h.classes) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timestamps length does not match configured accelerator classes"})
		return
	}
	for i, class := range h.classes {
		h.loop.IngestRequests(now, class, int64(len(nested[i])))
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// QueryInterval handles GET /control_plane/query_interval.
func (h *TelemetryHandler) QueryInterval(c *gin.Context) {
	interval, ok := h.loop.QueryInterval()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"query_interval": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"query_interval": int(interval.Seconds())})
}

// ReadyReplicas handles GET /control_plane/ready_replicas.
func (h *TelemetryHandler) ReadyReplicas(c *gin.Context) {
	status, err := h.loop.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	ids := make([]int64, 0, len(status.Replicas))
	for _, r := range status.Replicas {
		if r.Status == autoscaler.StatusReady {
			ids = append(ids, r.ReplicaID)
		}
	}
	c.JSON(http.StatusOK, gin.H{"ready_replicas": ids})
}

// ReplicaInfo handles GET /control_plane/replica_info.
func (h *TelemetryHandler) ReplicaInfo(c *gin.Context) {
	status, err := h.loop.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	if raw, err := json.Marshal(status.Replicas); err == nil {
		logger.DebugCtx(c.Request.Context(), "replica_info snapshot: %s", string(raw))
	}

	c.JSON(http.StatusOK, gin.H{"replicas": status.Replicas})
}

// ReplicaCounts handles GET /control_plane/replica_counts.
func (h *TelemetryHandler) ReplicaCounts(c *gin.Context) {
	status, err := h.loop.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	var ready, unhealthy, failed int
	for _, r := range status.Replicas {
		switch r.Status {
		case autoscaler.StatusReady:
			ready++
		case autoscaler.StatusFailed:
			failed++
		case autoscaler.StatusNotReady, autoscaler.StatusProvisioning:
			unhealthy++
		}
	}
	c.JSON(http.StatusOK, gin.H{"ready": ready, "unhealthy": unhealthy, "failed": failed})
}

// Terminate handles POST /control_plane/terminate. It responds immediately
// and triggers graceful shutdown in the background, mirroring the
// original's sequencing of stopping telemetry intake and the control loop
// before tearing down infrastructure.
func (h *TelemetryHandler) Terminate(c *gin.Context) {
	eventID := uuid.New().String()
	logger.InfoCtx(c.Request.Context(), "shutdown requested via /control_plane/terminate, event_id=%s", eventID)
	c.JSON(http.StatusOK, gin.H{"message": "shutting down", "event_id": eventID})
	if h.shutdownFunc != nil {
		go h.shutdownFunc()
	}
}

func respondError(c *gin.Context, err error) {
	switch err.(type) {
	case *autoscaler.ClientError:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.ErrorCtx(c.Request.Context(), "telemetry handler error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
