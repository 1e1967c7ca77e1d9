package grpc_control

import (
	"fmt"
	"net"
	"sync"

	"cove-observer/src/logger"
	"cove-observer/src/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// LedgerService is the health service name of the ledger connection
const LedgerService = "ledger"

// ExchangeService returns the health service name of one exchange
func ExchangeService(name string) string {
	return "exchange/" + name
}

// -----------------------------------------------------------------------------
// HealthReporter publishes connection states through the standard gRPC
// health protocol. The overall ("") status is SERVING while the ledger is
// connected.
// -----------------------------------------------------------------------------

type HealthReporter struct {
	Logger *logger.Logger
	health *health.Server
	server *grpc.Server

	mu       sync.Mutex
	services map[string]healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthReporter(log *logger.Logger) *HealthReporter {
	if log == nil {
		log = logger.NewNopLogger()
	}
	r := &HealthReporter{
		Logger:   log,
		health:   health.NewServer(),
		services: make(map[string]healthpb.HealthCheckResponse_ServingStatus),
	}
	r.set("", healthpb.HealthCheckResponse_NOT_SERVING)
	r.set(LedgerService, healthpb.HealthCheckResponse_NOT_SERVING)
	return r
}

// -----------------------------------------------------------------------------

// Track registers an exchange so it is reported before its first event
func (r *HealthReporter) Track(exchange string) {
	r.set(ExchangeService(exchange), healthpb.HealthCheckResponse_NOT_SERVING)
}

// ObserveLedger maps ledger connection events onto the ledger service
func (r *HealthReporter) ObserveLedger(ev models.MEvent) {
	status, ok := statusFor(ev)
	if !ok {
		return
	}
	r.set(LedgerService, status)
	r.set("", status)
}

// ObserveExchange maps adapter events onto exchange/<source>
func (r *HealthReporter) ObserveExchange(ev models.MEvent) {
	status, ok := statusFor(ev)
	if !ok || ev.Source == "" {
		return
	}
	r.set(ExchangeService(ev.Source), status)
}

func statusFor(ev models.MEvent) (healthpb.HealthCheckResponse_ServingStatus, bool) {
	switch ev.Kind {
	case models.EventConnected:
		return healthpb.HealthCheckResponse_SERVING, true
	case models.EventDisconnected, models.EventMaxRetriesReached:
		return healthpb.HealthCheckResponse_NOT_SERVING, true
	case models.EventStateChanged:
		if ev.State == models.StateConnected {
			return healthpb.HealthCheckResponse_SERVING, true
		}
		return healthpb.HealthCheckResponse_NOT_SERVING, true
	}
	return 0, false
}

func (r *HealthReporter) set(service string, status healthpb.HealthCheckResponse_ServingStatus) {
	r.mu.Lock()
	prev, seen := r.services[service]
	r.services[service] = status
	r.mu.Unlock()

	if seen && prev == status {
		return
	}
	r.health.SetServingStatus(service, status)
	if service != "" {
		r.Logger.Debug("Health %s -> %s", service, status)
	}
}

// Statuses returns a copy of every reported service status by name
func (r *HealthReporter) Statuses() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.services))
	for k, v := range r.services {
		if k == "" {
			continue
		}
		out[k] = v.String()
	}
	return out
}

// -----------------------------------------------------------------------------

// Serve runs the gRPC server on lis until Stop
func (r *HealthReporter) Serve(lis net.Listener) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, r.health)
	reflection.Register(srv)

	r.mu.Lock()
	r.server = srv
	r.mu.Unlock()

	r.Logger.Info("gRPC health listening on %s", lis.Addr())
	if err := srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// ListenAndServe listens on host:port
func (r *HealthReporter) ListenAndServe(host string, port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return r.Serve(lis)
}

// Stop marks every service NOT_SERVING and stops the server
func (r *HealthReporter) Stop() {
	r.health.Shutdown()
	r.mu.Lock()
	srv := r.server
	r.mu.Unlock()
	if srv != nil {
		srv.GracefulStop()
	}
}
