package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"

	"github.com/netmon/nettask/pkg/logger"
)

// RunMenu drives the operator CLI described in spec.md section 6:
// {1: load tasks, 2: dispatch queued tasks, 3: list agents, 4: display
// metrics, 5: quit}. It returns when the operator quits or in reflects
// EOF on in (e.g. input piped from a script or closed stdin).
func (s *Server) RunMenu(ctx context.Context, fs afero.Fs, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n1) Load tasks  2) Dispatch queued tasks  3) List agents  4) Display metrics  5) Quit\n> ")
		if !scanner.Scan() {
			return
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "1":
			fmt.Fprint(out, "Task file path: ")
			if !scanner.Scan() {
				return
			}
			path := strings.TrimSpace(scanner.Text())
			n, err := LoadTaskFile(fs, path, s.Queue)
			if err != nil {
				logger.Error("loading %s: %v", path, err)
				continue
			}
			logger.Success("loaded %d task(s) from %s", n, path)
		case "2":
			s.DispatchAll(ctx)
		case "3":
			for id, addr := range s.Registry.List() {
				fmt.Fprintf(out, "  %s -> %s\n", id, addr)
			}
		case "4":
			for _, entry := range s.Store.All() {
				fmt.Fprintf(out, "  agent=%s task=%d:\n", entry.Agent, entry.Task)
				for _, obs := range entry.Observations {
					fmt.Fprintf(out, "    %s\n", obs)
				}
			}
		case "5":
			return
		default:
			fmt.Fprintln(out, "unrecognised option")
		}
	}
}
