// Package grpctransport provides gRPC health probing and serving.
package grpctransport

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"admissiongate/internal/gateway/core"
)

// HealthProber probes upstreams over the standard gRPC health protocol.
// Connections are cached per target and dialed lazily.
type HealthProber struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewHealthProber constructs a prober.
func NewHealthProber() *HealthProber {
	return &HealthProber{conns: make(map[string]*grpc.ClientConn)}
}

// Probe checks one upstream and reports the outcome as a sample.
func (p *HealthProber) Probe(ctx context.Context, upstream *core.UpstreamService) core.Sample {
	sample := core.Sample{Source: core.SampleSourceProbe, At: time.Now()}
	if p == nil || upstream == nil || upstream.ProbeTarget == "" {
		return sample
	}
	sample.Upstream = upstream.ID

	conn, err := p.conn(upstream.ProbeTarget)
	if err != nil {
		return sample
	}
	start := time.Now()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	sample.Latency = time.Since(start)
	if err != nil {
		return sample
	}
	sample.Success = resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	return sample
}

// Close tears down all cached connections.
func (p *HealthProber) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for target, conn := range p.conns {
		_ = conn.Close()
		delete(p.conns, target)
	}
}

func (p *HealthProber) conn(target string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.conns[target]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                60 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, err
	}
	p.conns[target] = conn
	return conn, nil
}
