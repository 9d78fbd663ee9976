package health

import (
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/restypanel/restywatch/internal/gateway"
	"github.com/restypanel/restywatch/internal/monitor"
	"github.com/restypanel/restywatch/internal/scheduler"
)

// Service names, one per poll channel.
const (
	ServiceMetrics  = "restywatch.metrics"
	ServiceTopology = "restywatch.topology"
)

// ServiceFor maps a poll channel to its health service name.
func ServiceFor(channel string) string {
	switch channel {
	case scheduler.ChannelMetrics:
		return ServiceMetrics
	case scheduler.ChannelTopology:
		return ServiceTopology
	}
	return ""
}

// Reporter translates engine ticks into health statuses.
type Reporter struct {
	srv *grpchealth.Server

	mu     sync.Mutex
	status map[string]healthpb.HealthCheckResponse_ServingStatus
	closed bool
}

// New returns a Reporter with both poll services NOT_SERVING.
func New() *Reporter {
	r := &Reporter{
		srv:    grpchealth.NewServer(),
		status: make(map[string]healthpb.HealthCheckResponse_ServingStatus),
	}
	r.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, svc := range []string{ServiceMetrics, ServiceTopology} {
		r.set(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return r
}

// Register adds the health service to s.
func (r *Reporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.srv)
}

// Observe is an engine OnTick hook.
func (r *Reporter) Observe(t monitor.Tick) {
	svc := ServiceFor(t.Channel)
	if svc == "" {
		return
	}
	switch {
	case t.OK():
		r.set(svc, healthpb.HealthCheckResponse_SERVING)
	case gateway.IsTransport(t.Err):
		r.set(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// Status returns the current status of svc.
func (r *Reporter) Status(svc string) healthpb.HealthCheckResponse_ServingStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.status[svc]; ok {
		return st
	}
	return healthpb.HealthCheckResponse_SERVICE_UNKNOWN
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (r *Reporter) Shutdown() {
	r.srv.Shutdown()
	r.mu.Lock()
	r.closed = true
	for svc := range r.status {
		r.status[svc] = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.mu.Unlock()
}

func (r *Reporter) set(svc string, st healthpb.HealthCheckResponse_ServingStatus) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	prev, seen := r.status[svc]
	r.status[svc] = st
	r.mu.Unlock()

	if seen && prev == st {
		return
	}
	r.srv.SetServingStatus(svc, st)
	if seen {
		slog.Info("health: status changed", "service", svc, "from", prev.String(), "to", st.String())
	}
}
