package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/matheus3301/wppcrm/internal/client"
	"github.com/matheus3301/wppcrm/internal/config"
	"github.com/matheus3301/wppcrm/internal/instance"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	addr       string
	configPath string
	json       bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "crmctl",
		Short:         "Control a running crmd daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.addr, "addr", "", "daemon address (default: listen_addr from config)")
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flags.json, "json", false, "output JSON")

	cmd.AddCommand(
		newStatusCmd(flags),
		newConnectCmd(flags),
		newDisconnectCmd(flags),
		newPairCmd(flags),
		newChatsCmd(flags),
		newOpenCmd(flags),
		newCloseCmd(flags),
		newSendCmd(flags),
		newConversationsCmd(flags),
	)
	return cmd
}

func (f *rootFlags) client() (*client.Client, error) {
	if f.addr != "" {
		return client.New(f.addr), nil
	}
	path := f.configPath
	if path == "" {
		path = instance.ConfigPath()
	}
	cfg, err := config.Resolve(path)
	if err != nil {
		return nil, err
	}
	return client.New(cfg.ListenAddr), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fprintf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
