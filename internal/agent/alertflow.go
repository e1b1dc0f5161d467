package agent

import (
	"fmt"
	"net"
	"time"

	"github.com/mikioh/tcp"
	"github.com/mikioh/tcpinfo"

	"github.com/netmon/nettask/internal/errs"
	"github.com/netmon/nettask/pkg/logger"
)

const alertDialTimeout = 2 * time.Second

// SendAlert implements the Agent side of AlertFlow (spec.md section 4.6):
// open a fresh stream connection to addr, write text, close. Connection
// failure is logged and swallowed, never retried (spec.md section 7).
func SendAlert(addr string, text string) error {
	conn, err := net.DialTimeout("tcp", addr, alertDialTimeout)
	if err != nil {
		logger.Error("ALERTFLOW dial %s failed: %v", addr, err)
		return fmt.Errorf("dialing AlertFlow listener %s: %w", addr, errs.ErrTransportFailed)
	}
	defer conn.Close()

	logDiagnostics(conn)

	if _, err := conn.Write([]byte(text)); err != nil {
		logger.Error("ALERTFLOW write to %s failed: %v", addr, err)
		return fmt.Errorf("writing alert to %s: %w", addr, errs.ErrTransportFailed)
	}

	logger.AlertFlow("sent to %s: %s", addr, text)
	return nil
}

// logDiagnostics reads the connection's kernel TCP_INFO once for a single
// diagnostic log line (SPEC_FULL.md section 2 component 12). It never
// affects alert delivery: any error here is logged at debug level and
// otherwise ignored.
func logDiagnostics(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	tc, err := tcp.NewConn(tcpConn)
	if err != nil {
		logger.Debug("AlertFlow TCP_INFO unavailable: %v", err)
		return
	}

	var o tcpinfo.Info
	var b [256]byte
	raw, err := tc.Option(o.Level(), o.Name(), b[:])
	if err != nil {
		logger.Debug("AlertFlow TCP_INFO read failed: %v", err)
		return
	}
	info, ok := raw.(*tcpinfo.Info)
	if !ok {
		return
	}
	logger.Debug("AlertFlow connection to %s: rtt=%s state=%s", conn.RemoteAddr(), info.RTT, info.State)
}
