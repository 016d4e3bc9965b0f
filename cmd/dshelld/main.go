// Command dshelld is a demo target: it registers a handful of entry
// points, binds its two IPC sockets, and waits for an attach client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/inshell/internal/audit"
	"github.com/ehrlich-b/inshell/internal/config"
	"github.com/ehrlich-b/inshell/internal/ipcserver"
	"github.com/ehrlich-b/inshell/internal/logger"
	"github.com/ehrlich-b/inshell/internal/registry"
)

func main() {
	var logFile string
	var logLevel string

	root := &cobra.Command{
		Use:   "dshelld",
		Short: "dshell demo target process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logLevel, logFile); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return run(cmd.Context())
		},
	}

	root.Flags().StringVar(&logFile, "log-file", "", "path to append server logs (stderr always gets them too)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgDir, err := config.Dir()
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	cfg, err := config.Load(cfgDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := registerEntryPoints()

	opts := []ipcserver.Option{
		ipcserver.WithLogger(logger.Log),
	}
	if cfg.Audit {
		auditLog, err := audit.Open(cfg.AuditDBPath(cfgDir))
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer auditLog.Close()
		opts = append(opts, ipcserver.WithAudit(auditLog))
	}

	pid := os.Getpid()
	srv := ipcserver.New(reg, pid, opts...)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	fmt.Printf("dshelld listening: cmd=%s output=%s (pid %d)\n", srv.CmdPath(), srv.OutputPath(), pid)
	return srv.Run(ctx)
}

// registerEntryPoints builds the registry exercising the four scenarios
// from spec §8: a zero-arg call, two ints, a string argument, and seven
// ints.
func registerEntryPoints() *registry.Registry {
	reg := registry.New()

	reg.Insert("hello", func() {
		fmt.Println("Hello, world!")
	})

	reg.Insert("add_two", func(a, b int64) int64 {
		sum := a + b
		fmt.Printf("%d + %d = %d\n", a, b, sum)
		return sum
	})

	reg.Insert("print_str", func(s string) {
		fmt.Println(s)
	})

	reg.Insert("add_seven", func(a, b, c, d, e, f, g int64) int64 {
		sum := a + b + c + d + e + f + g
		fmt.Printf("%d + %d + %d + %d + %d + %d + %d = %d\n", a, b, c, d, e, f, g, sum)
		return sum
	})

	reg.Insert("uptime", func() string {
		return fmt.Sprintf("up for %s", time.Since(startedAt).Round(time.Second))
	})

	return reg
}

var startedAt = time.Now()
