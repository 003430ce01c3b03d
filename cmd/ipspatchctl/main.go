package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cordum/ipspatch/core/infra/bus"
	"github.com/cordum/ipspatch/core/infra/config"
	"github.com/cordum/ipspatch/core/infra/deepsecurity"
	"github.com/cordum/ipspatch/core/infra/logging"
	"github.com/cordum/ipspatch/core/ips"
)

// errFatal marks an invocation that ended without an outcome. Its details
// have already been logged and printed.
var errFatal = errors.New("invocation failed")

// env holds the collaborators a command needs; tests replace them.
type env struct {
	out     io.Writer
	in      io.Reader
	cfg     *config.Config
	backend func(cfg *config.Config) (ips.Backend, error)
	publish func(cfg *config.Config, subject string, data []byte) error
}

func defaultEnv() *env {
	return &env{
		out:     os.Stdout,
		in:      os.Stdin,
		cfg:     config.Load(),
		backend: dialBackend,
		publish: publishEvent,
	}
}

func main() {
	if err := newRootCmd(defaultEnv()).Execute(); err != nil {
		if !errors.Is(err, errFatal) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "ipspatchctl",
		Short:         "Enable or disable the IPS rules covering a CVE on an endpoint's policy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(e.out)
	root.SetIn(e.in)
	root.AddCommand(newRunCmd(e), newEventCmd(e), newPublishCmd(e), newVersionCmd(e))
	return root
}

func dialBackend(cfg *config.Config) (ips.Backend, error) {
	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		logging.Info("ipspatchctl", "using default settings", "path", cfg.SettingsPath, "err", err)
	}
	return deepsecurity.FromConfig(cfg, settings), nil
}

func publishEvent(cfg *config.Config, subject string, data []byte) error {
	b, err := bus.NewNatsBus(cfg.NatsURL, cfg.Subject)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer b.Close()
	return b.Publish(subject, data, "")
}
