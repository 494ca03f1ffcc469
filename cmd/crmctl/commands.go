package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/wppcrm/internal/api"
	"github.com/matheus3301/wppcrm/internal/client"
	"github.com/matheus3301/wppcrm/internal/status"
	"github.com/spf13/cobra"
	"github.com/skip2/go-qrcode"
)

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printStatus(cmd, flags, st)
		},
	}
}

func newConnectCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Start polling, or pairing if the instance is not open",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			st, err := c.Connect(cmd.Context())
			if err != nil {
				return err
			}
			return printStatus(cmd, flags, st)
		},
	}
}

func newDisconnectCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Log the instance out and stop polling",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			st, err := c.Disconnect(cmd.Context())
			if err != nil {
				return err
			}
			return printStatus(cmd, flags, st)
		},
	}
}

func printStatus(cmd *cobra.Command, flags *rootFlags, st *api.StatusResponse) error {
	out := cmd.OutOrStdout()
	if flags.json {
		return printJSON(out, st)
	}
	fprintf(out, "Instance: %s\n", st.Instance)
	fprintf(out, "Status:   %s\n", st.Status)
	fprintf(out, "Chats:    %d\n", st.ChatCount)
	if st.OpenConversation != "" {
		fprintf(out, "Open:     %s\n", st.OpenConversation)
	}
	fprintf(out, "Uptime:   %s\n", (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
	return nil
}

func newPairCmd(flags *rootFlags) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:     "pair",
		Short:   "Connect and render the pairing QR code in the terminal",
		Example: "  crmctl pair --timeout 3m",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			st, err := c.Connect(ctx)
			if err != nil {
				return err
			}
			if st.Status == string(status.Connected) {
				fprintf(out, "Instance %s is already connected.\n", st.Instance)
				return nil
			}

			qr, err := c.QR(ctx)
			if errors.Is(err, client.ErrNotPairing) {
				return fmt.Errorf("instance %s is %s, not pairing", st.Instance, st.Status)
			}
			if err != nil {
				return err
			}
			if qr.Code != "" {
				code, err := qrcode.New(qr.Code, qrcode.Medium)
				if err != nil {
					return fmt.Errorf("render qr code: %w", err)
				}
				fprintf(out, "%s\n", code.ToSmallString(false))
			}
			if qr.PairingCode != "" {
				fprintf(out, "Pairing code: %s\n", qr.PairingCode)
			}
			fprintf(out, "Scan with WhatsApp > Linked devices. Waiting...\n")

			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()
			deadline := time.After(timeout)
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-deadline:
					return errors.New("timed out waiting for pairing")
				case <-ticker.C:
				}
				st, err := c.Status(ctx)
				if err != nil {
					return err
				}
				switch status.State(st.Status) {
				case status.Connected:
					fprintf(out, "Connected.\n")
					return nil
				case status.DeviceLimit:
					return errors.New("pairing gave up: the phone never confirmed the device")
				case status.Disconnected, status.Error:
					return fmt.Errorf("pairing stopped: %s", st.Status)
				}
			}
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "how long to wait for the scan")
	return cmd
}

func newChatsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List the chat snapshot with unread counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			list, err := c.Chats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if flags.json {
				return printJSON(out, list)
			}
			if len(list.Chats) == 0 {
				fprintf(out, "No chats.\n")
				return nil
			}
			for _, chat := range list.Chats {
				marker := " "
				if chat.RemoteID == list.Open {
					marker = "*"
				}
				fprintf(out, "%s %4d  %-28s %s\n", marker, chat.UnreadCount, truncate(chat.DisplayName, 28), truncate(chat.LastMessagePreview, 48))
			}
			return nil
		},
	}
}

func newOpenCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "open <jid>",
		Short:   "Mark a conversation as open",
		Example: "  crmctl open 5511999999999@s.whatsapp.net",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			if err := c.Open(cmd.Context(), args[0]); err != nil {
				return err
			}
			fprintf(cmd.OutOrStdout(), "Opened %s\n", args[0])
			return nil
		},
	}
}

func newCloseCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "close",
		Short: "Close the open conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			closed, err := c.Close(cmd.Context())
			if err != nil {
				return err
			}
			if closed == "" {
				fprintf(cmd.OutOrStdout(), "No conversation was open.\n")
				return nil
			}
			fprintf(cmd.OutOrStdout(), "Closed %s\n", closed)
			return nil
		},
	}
}

func newSendCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "send <jid> <text>",
		Short:   "Queue a text message",
		Example: "  crmctl send 5511999999999@s.whatsapp.net \"Olá!\"",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			entry, err := c.Send(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if flags.json {
				return printJSON(cmd.OutOrStdout(), entry)
			}
			fprintf(cmd.OutOrStdout(), "Queued %s (%s)\n", entry.ClientMsgID, entry.Status)
			return nil
		},
	}
}

func newConversationsCmd(flags *rootFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List backend conversation rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			convs, err := c.Conversations(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if flags.json {
				return printJSON(out, convs)
			}
			for _, conv := range convs {
				open := " "
				if conv.IsOpen {
					open = "*"
				}
				fprintf(out, "%s %4d  %-32s %s\n", open, conv.UnreadCount, conv.RemoteJID, truncate(conv.LastMessage, 48))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
