package agent

import (
	"context"
	"fmt"
	"net"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/netmon/nettask/internal/nettask"
	"github.com/netmon/nettask/internal/probe"
	"github.com/netmon/nettask/pkg/logger"
)

// Config holds the Agent's startup parameters (SPEC_FULL.md section 6).
type Config struct {
	Hostname      string // overrides os.Hostname() for AgentID derivation; empty uses the OS hostname
	ServerHost    string
	ServerPort    int
	AlertPort     int
	ThresholdPath string
}

// Agent owns every piece of Agent-side state named in spec.md section 3
// and wires them into the running NetTask endpoint and Measurement Engine.
// Its lifecycle follows spec.md section 4.9: INIT -> REGISTERING -> READY
// -> (RUNNING_TASK <-> READY)* -> EXITED.
type Agent struct {
	id         nettask.AgentID
	conn       net.PacketConn
	serverAddr net.Addr
	alertAddr  string

	Endpoint *Endpoint
	TaskLog  *TaskLog
	AlertLog *AlertLog
}

// New resolves the Agent's identity, binds its NetTask socket, and loads
// its threshold configuration. A missing or malformed threshold file
// returns CONFIG_MISSING, which is fatal at Agent startup (spec.md
// section 7) — callers should treat a non-nil error here as terminal.
func New(cfg Config, fs afero.Fs) (*Agent, error) {
	hostname := cfg.Hostname
	if hostname == "" {
		h, err := hostnameFunc()
		if err != nil {
			return nil, fmt.Errorf("resolving hostname: %w", err)
		}
		hostname = h
	}
	id, err := DeriveAgentID(hostname)
	if err != nil {
		return nil, fmt.Errorf("deriving agent id from %q: %w", hostname, err)
	}

	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("binding NetTask UDP socket: %w", err)
	}

	serverAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("resolving server address: %w", err)
	}

	thresholds, err := LoadThresholdConfig(fs, cfg.ThresholdPath)
	if err != nil {
		conn.Close()
		return nil, err
	}

	alertAddr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.AlertPort)
	taskLog := NewTaskLog()
	alertLog := NewAlertLog()
	evaluator := NewEvaluator(thresholds)
	engine := NewEngine(conn, serverAddr, id, probe.GopsutilSampler{}, probe.ExecRunner{}, evaluator, alertAddr, taskLog, alertLog)
	endpoint := NewEndpoint(conn, serverAddr, engine)

	return &Agent{
		id:         id,
		conn:       conn,
		serverAddr: serverAddr,
		alertAddr:  alertAddr,
		Endpoint:   endpoint,
		TaskLog:    taskLog,
		AlertLog:   alertLog,
	}, nil
}

// ID returns the Agent's derived identity.
func (a *Agent) ID() nettask.AgentID { return a.id }

// Close releases the Agent's NetTask socket.
func (a *Agent) Close() error { return a.conn.Close() }

// Register performs the registration handshake of spec.md section 4.2.
// Per spec.md, there is no retry on failure: the Agent exits.
func (a *Agent) Register(ctx context.Context) error {
	return Register(ctx, a.conn, a.serverAddr, a.id)
}

// Run launches the NetTask receive loop as the Agent's sole long-lived
// goroutine besides the operator menu (spec.md section 5: "two cooperating
// threads of execution"), supervised by an errgroup bound to ctx.
func (a *Agent) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.Endpoint.Run(gctx)
	})
	return group.Wait()
}

// Exit emits the EXIT PDU of spec.md section 4.9, triggered by the
// operator menu's quit option.
func (a *Agent) Exit() {
	if _, err := a.conn.WriteTo(nettask.EncodeExit(0), a.serverAddr); err != nil {
		logger.Error("sending EXIT: %v", err)
	}
}

// hostnameFunc is overridable in tests.
var hostnameFunc = osHostname
