// Package server implements the Server side of the NetTask/AlertFlow
// stack: registration, task dispatch with retry, result collection, and
// the AlertFlow listener (spec.md sections 4.2-4.8).
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/netmon/nettask/pkg/logger"
)

// Config holds the Server's startup parameters (SPEC_FULL.md section 6).
type Config struct {
	Host        string
	Port        int
	AlertPort   int
	MetricsAddr string // empty disables the /metrics debug listener
}

// Server owns every piece of Server-side state named in spec.md section 3
// and wires them into the running endpoints.
type Server struct {
	cfg Config

	Registry   *Registry
	Queue      *Queue
	Store      *Store
	Dispatcher *Dispatcher
	Endpoint   *Endpoint
	Alerts     *AlertListener

	conn    net.PacketConn
	alertLn net.Listener
	instr   *instrumentation
	reg     *prometheus.Registry
}

// New binds the NetTask UDP socket and AlertFlow TCP listener and wires
// every component together. Callers must call Close when done.
func New(cfg Config) (*Server, error) {
	conn, err := net.ListenPacket("udp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("binding NetTask UDP socket: %w", err)
	}

	alertLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.AlertPort))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("binding AlertFlow TCP listener: %w", err)
	}

	registry := NewRegistry()
	queue := NewQueue()
	store := NewStore()
	reg := prometheus.NewRegistry()
	instr := newInstrumentation(reg, registry, queue)
	dispatcher := NewDispatcher(conn, registry, queue, instr)
	endpoint := NewEndpoint(conn, registry, queue, dispatcher, store, instr)
	alerts := NewAlertListener(alertLn)

	return &Server{
		cfg:        cfg,
		Registry:   registry,
		Queue:      queue,
		Store:      store,
		Dispatcher: dispatcher,
		Endpoint:   endpoint,
		Alerts:     alerts,
		conn:       conn,
		alertLn:    alertLn,
		instr:      instr,
		reg:        reg,
	}, nil
}

// Close releases the bound sockets.
func (s *Server) Close() error {
	s.conn.Close()
	return s.alertLn.Close()
}

// Run launches the NetTask receive loop, AlertFlow listener, and (if
// configured) the Prometheus debug endpoint as sibling goroutines
// supervised by an errgroup, per SPEC_FULL.md section 5: the teacher's
// hand-rolled goroutine-plus-signal-channel pattern in core/main.go
// generalised to a cancellable context shared by every long-lived
// goroutine. Run blocks until ctx is cancelled or a goroutine returns an
// error.
func (s *Server) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.Endpoint.Run(gctx)
	})
	group.Go(func() error {
		return s.Alerts.Run(gctx)
	})

	if s.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
		httpSrv := &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux}
		group.Go(func() error {
			go func() {
				<-gctx.Done()
				httpSrv.Close()
			}()
			logger.Info("metrics listening on %s/metrics", s.cfg.MetricsAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	return group.Wait()
}

// DispatchAll drains every agent's queue concurrently, one goroutine per
// agent so that a stalled agent cannot hold up another's dispatch
// (spec.md section 4.3: "across agents they may proceed concurrently").
func (s *Server) DispatchAll(ctx context.Context) {
	agents := s.Queue.Agents()
	done := make(chan struct{}, len(agents))
	for _, agent := range agents {
		agent := agent
		go func() {
			s.Dispatcher.DrainAgent(ctx, agent)
			done <- struct{}{}
		}()
	}
	for range agents {
		<-done
	}
}
