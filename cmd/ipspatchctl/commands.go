package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cordum/ipspatch/core/infra/buildinfo"
	"github.com/cordum/ipspatch/core/invoke"
)

func newRunCmd(e *env) *cobra.Command {
	var (
		hostname, policyName, cve, enableRules, logLevel string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile the rules for one CVE on one endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]string{
				"cve":          cve,
				"enable_rules": enableRules,
				"log_level":    logLevel,
			}
			if hostname != "" {
				payload["hostname"] = hostname
			}
			if policyName != "" {
				payload["policy_name"] = policyName
			}
			data, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			return invokeEvent(cmd, e, data)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&hostname, "hostname", "", "endpoint hostname")
	fs.StringVar(&policyName, "policy-name", "", "policy to patch; defaults to the endpoint's current policy")
	fs.StringVar(&cve, "cve", "", "CVE identifier")
	fs.StringVar(&enableRules, "enable-rules", "true", "true to enable the rules, false to remove them")
	fs.StringVar(&logLevel, "log-level", e.cfg.LogLevel, "DEBUG, INFO, WARNING, ERROR or CRITICAL")
	_ = cmd.MarkFlagRequired("cve")
	return cmd
}

func newEventCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "event [file]",
		Short: "Run one invocation from a JSON event (stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readEvent(cmd, args)
			if err != nil {
				return err
			}
			return invokeEvent(cmd, e, data)
		},
	}
}

func newPublishCmd(e *env) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "publish [file]",
		Short: "Publish a JSON event to the bus for the worker",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readEvent(cmd, args)
			if err != nil {
				return err
			}
			if !json.Valid(data) {
				return fmt.Errorf("event is not valid JSON")
			}
			if err := e.publish(e.cfg, subject, data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published to %s\n", subject)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", e.cfg.Subject, "bus subject")
	return cmd
}

func newVersionCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.Info())
		},
	}
}

func invokeEvent(cmd *cobra.Command, e *env, data []byte) error {
	backend, err := e.backend(e.cfg)
	if err != nil {
		return err
	}
	res := invoke.New(backend, nil).Event(cmd.Context(), data, "direct")
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if res.Fatal() {
		return errFatal
	}
	return nil
}

func readEvent(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	// #nosec G304 -- event path is operator-provided.
	return os.ReadFile(args[0])
}
