package cli

import (
	"fmt"
	"strings"

	"github.com/DamOTclese/chatbetween/internal"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func ConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View or update the chatbetween configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(configShowCommand())
	cmd.AddCommand(configSetCommand())
	return cmd
}

func configShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetChatConfig(cmd)
			if cfg == nil {
				return fmt.Errorf("configuration unavailable")
			}

			pterm.Printfln("base_port                = %d", cfg.BasePort)
			pterm.Printfln("chunk_size               = %d", cfg.ChunkSize)
			pterm.Printfln("transfer_timeout_seconds = %d", cfg.TransferTimeoutSeconds)
			pterm.Printfln("holdoff_millis           = %d", cfg.HoldoffMillis)
			pterm.Printfln("write_retry_limit        = %d", cfg.WriteRetryLimit)
			pterm.Printfln("name_probe_limit         = %d", cfg.NameProbeLimit)
			pterm.Printfln("download_dir             = %s", cfg.DownloadDir)
			pterm.Printfln("chat_log_dir             = %s", cfg.ChatLogDir)
			pterm.Printfln("chat_log_enabled         = %v", cfg.ChatLogEnabled)
			pterm.Printfln("log_level                = %s", cfg.LogLevel)
			return nil
		},
	}
}

func configSetCommand() *cobra.Command {
	var basePort int
	var chunkSize int
	var timeoutSeconds int
	var downloadDir string
	var chatLogDir string
	var chatLogEnabled bool
	var logLevel string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update configuration values and save them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetChatConfig(cmd)
			if cfg == nil {
				return fmt.Errorf("configuration unavailable")
			}

			if err := applyChangedFlags(cfg, cmd.Flags(), basePort, chunkSize,
				timeoutSeconds, downloadDir, chatLogDir, chatLogEnabled, logLevel); err != nil {
				return err
			}

			path := getChatConfigPath(cmd)
			saved, err := cfg.Save(path)
			if err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			internal.Info("configuration updated", internal.Fields{
				internal.ConfigPath: saved,
			})
			return nil
		},
	}

	cmd.Flags().IntVar(&basePort, "base-port", 0, "Base UDP port number")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Maximum bytes per outbound datagram")
	cmd.Flags().IntVar(&timeoutSeconds, "transfer-timeout", 0, "Inbound transfer timeout in seconds")
	cmd.Flags().StringVar(&downloadDir, "download-dir", "", "Directory for inbound files")
	cmd.Flags().StringVar(&chatLogDir, "chat-log-dir", "", "Directory for the chat log")
	cmd.Flags().BoolVar(&chatLogEnabled, "chat-log", true, "Whether the chat log starts enabled")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	return cmd
}

func applyChangedFlags(cfg *internal.ChatConfig, flagSet *pflag.FlagSet,
	basePort, chunkSize, timeoutSeconds int,
	downloadDir, chatLogDir string, chatLogEnabled bool, logLevel string) error {

	if flagSet.Changed("base-port") {
		if basePort <= 0 || basePort > 65534 {
			return fmt.Errorf("base port must be between 1 and 65534")
		}
		cfg.BasePort = basePort
	}
	if flagSet.Changed("chunk-size") {
		if chunkSize <= 0 {
			return fmt.Errorf("chunk size must be > 0")
		}
		cfg.ChunkSize = chunkSize
	}
	if flagSet.Changed("transfer-timeout") {
		if timeoutSeconds <= 0 {
			return fmt.Errorf("transfer timeout must be > 0")
		}
		cfg.TransferTimeoutSeconds = timeoutSeconds
	}
	if flagSet.Changed("download-dir") {
		cfg.DownloadDir = strings.TrimSpace(downloadDir)
	}
	if flagSet.Changed("chat-log-dir") {
		cfg.ChatLogDir = strings.TrimSpace(chatLogDir)
	}
	if flagSet.Changed("chat-log") {
		cfg.ChatLogEnabled = chatLogEnabled
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	return nil
}
