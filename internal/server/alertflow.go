package server

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/netmon/nettask/pkg/logger"
)

const maxAlertSize = 1024

// AlertListener is the Server side of AlertFlow (spec.md section 4.6): a
// TCP listener accepting one connection per alert, reading up to 1 KiB,
// printing it with a wall-clock timestamp, and closing. No
// acknowledgement; at-most-once delivery.
type AlertListener struct {
	ln net.Listener
}

func NewAlertListener(ln net.Listener) *AlertListener {
	return &AlertListener{ln: ln}
}

// Run accepts connections until ctx is cancelled or the listener closes.
func (a *AlertListener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		a.ln.Close()
	}()

	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("AlertFlow accept failed: %v", err)
			continue
		}
		go a.handle(conn)
	}
}

func (a *AlertListener) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	buf := make([]byte, maxAlertSize)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF && n == 0 {
		logger.Error("ALERTFLOW read from %s failed: %v", conn.RemoteAddr(), err)
		return
	}

	logger.AlertFlow("[%s] %s", time.Now().Format(time.RFC3339), string(buf[:n]))
}
