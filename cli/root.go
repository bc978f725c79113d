package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/DamOTclese/chatbetween/internal"
	"github.com/spf13/cobra"
)

type ctxKey string

const chatCfgKey ctxKey = "chatConfig"
const chatCfgPathKey ctxKey = "chatConfigPath"

func NewRootCommand() *cobra.Command {
	var configPath string
	var portFlag int
	var logLevelFlag string

	rootCmd := &cobra.Command{
		Use:   "chatbetween",
		Short: "chatbetween is a subnet-wide UDP broadcast chat and file transfer tool",
		Long: `chatbetween broadcasts chat text and files as UDP datagrams across the
local network segment. Every listener sees every frame; there is no delivery
guarantee and no security of any kind, which is the whole point of the design.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := internal.LoadChatConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if portFlag > 0 {
				cfg.BasePort = portFlag
			}
			if logLevelFlag != "" {
				cfg.LogLevel = logLevelFlag
			}
			if err := internal.ConfigureLogger(cfg.LogLevel); err != nil {
				internal.Warn("invalid log level, defaulting to info", internal.Fields{
					internal.FieldError: err.Error(),
				})
			}

			cfgPath := configPath
			if strings.TrimSpace(cfgPath) == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				cfgPath = filepath.Join(home, ".chatbetween", "config.toml")
			}

			ctx := context.WithValue(cmd.Context(), chatCfgKey, cfg)
			ctx = context.WithValue(ctx, chatCfgPathKey, cfgPath)
			cmd.SetContext(ctx)

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (TOML)")
	rootCmd.PersistentFlags().IntVar(&portFlag, "port", 0, "Base UDP port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (overrides config)")

	rootCmd.AddCommand(ChatCommand())
	rootCmd.AddCommand(ConfigCommand())

	return rootCmd
}

// GetChatConfig hands subcommands the config loaded by the root command.
func GetChatConfig(cmd *cobra.Command) *internal.ChatConfig {
	if v := cmd.Context().Value(chatCfgKey); v != nil {
		if cfg, ok := v.(*internal.ChatConfig); ok {
			return cfg
		}
	}
	return nil
}

func getChatConfigPath(cmd *cobra.Command) string {
	if v := cmd.Context().Value(chatCfgPathKey); v != nil {
		if path, ok := v.(string); ok {
			return path
		}
	}
	return ""
}
