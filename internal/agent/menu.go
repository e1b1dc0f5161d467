package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// RunMenu drives the Agent operator CLI described in spec.md section 6:
// {1: display local task log, 2: display local alerts, 3: quit -> emit
// EXIT PDU}. cancel stops the Agent's receive loop once the operator quits.
func (a *Agent) RunMenu(ctx context.Context, in io.Reader, out io.Writer, cancel context.CancelFunc) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n1) Display local task log  2) Display local alerts  3) Quit\n> ")
		if !scanner.Scan() {
			return
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "1":
			for taskID, lines := range a.TaskLog.All() {
				fmt.Fprintf(out, "  task=%d:\n", taskID)
				for _, line := range lines {
					fmt.Fprintf(out, "    %s\n", line)
				}
			}
		case "2":
			for _, rec := range a.AlertLog.All() {
				fmt.Fprintf(out, "  [%s] %s: %s\n", rec.At.Format("15:04:05"), rec.Metric, rec.Text)
			}
		case "3":
			a.Exit()
			cancel()
			return
		default:
			fmt.Fprintln(out, "unrecognised option")
		}
	}
}
