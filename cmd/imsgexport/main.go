package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Napageneral/imsgexport/imessage"
	"github.com/Napageneral/imsgexport/internal/config"
	"github.com/Napageneral/imsgexport/internal/export"
	"github.com/Napageneral/imsgexport/internal/logging"
)

var version = "0.1.0-dev"

const fullDiskAccessHelp = `Make sure the terminal has Full Disk Access:
  System Settings > Privacy & Security > Full Disk Access
  > Add Terminal (or your terminal app)`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, imessage.ErrChatDBNotFound) || errors.Is(err, imessage.ErrChatDBPermission) {
			fmt.Fprintln(os.Stderr, fullDiskAccessHelp)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "imsgexport <destination>",
		Short: "Export iMessage history to an external drive",
		Example: "  imsgexport /Volumes/MyDrive/imessage-backup\n" +
			"  imsgexport --contact \"+15551234567\" --readable-only ~/Desktop/export",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg.Destination = args[0]
			info, err := export.Run(cmd.Context(), cfg, export.Options{Version: version, Logger: logger})
			if err != nil {
				return err
			}

			fields := []zap.Field{zap.String("export_id", info.ExportID)}
			if info.Stats != nil {
				fields = append(fields,
					zap.Int("conversations", info.Conversations),
					zap.Int("messages", info.Messages),
					zap.Int("attachments_copied", info.AttachmentsCopied),
				)
			}
			logger.Info("Done", fields...)
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("db-path", imessage.DefaultChatDBPath(), "Path to the iMessage database")
	flags.String("attachments-path", imessage.DefaultAttachmentsPath(), "Path to the iMessage attachments folder")
	flags.String("contact", "", "Export only conversations matching this contact (phone number, email, or name)")
	flags.Bool("readable-only", false, "Only export human-readable transcripts (skip raw database backup)")
	flags.Bool("backup-only", false, "Only copy raw database and attachments (skip readable transcripts)")
	flags.String("config", "", "YAML config file (default $IMSGEXPORT_CONFIG)")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", "auto", "Log format: auto, console, json")
	rootCmd.MarkFlagsMutuallyExclusive("readable-only", "backup-only")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := map[string]interface{}{
				"version": version,
				"go":      "1.23",
			}
			return printJSON(cmd.OutOrStdout(), output)
		},
	}

	pathsCmd := &cobra.Command{
		Use:   "paths",
		Short: "Print the database and attachments paths in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			output := map[string]interface{}{
				"db_path":          cfg.DBPath,
				"attachments_path": cfg.AttachmentsPath,
				"config_path":      cfg.ConfigFile,
			}
			return printJSON(cmd.OutOrStdout(), output)
		},
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Print summary statistics about the iMessage database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			chatDB, err := imessage.OpenChatDB(cfg.DBPath)
			if err != nil {
				return err
			}
			defer chatDB.Close()

			stats, err := chatDB.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), out)
			return err
		},
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(pathsCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(configCmd)

	return rootCmd
}

// loadConfig resolves configuration for cmd and builds the logger it asks for
func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(config.LoadOptions{ConfigFile: configFile, Flags: cmd.Flags()})
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func printJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
