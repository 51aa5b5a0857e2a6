package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/qianlnk/werewolf-channels/auth"
	"github.com/qianlnk/werewolf-channels/config"
	"github.com/qianlnk/werewolf-channels/models"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

const programName = "werewolf"

var (
	globalFlags = struct {
		debug bool
	}{}
	configFile string
)

func slogPrintf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), "component", programName)
}

// commonRun 初始化日志和 GOMAXPROCS
func commonRun(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: debug,
		Level:     level,
	}))
	slog.SetDefault(logger)
	if _, err := maxprocs.Set(maxprocs.Logger(slogPrintf)); err != nil {
		logger.Error("set maxprocs", "error", err)
		os.Exit(1)
	}
	return logger
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if globalFlags.debug {
		cfg.Server.Debug = true
	}
	return cfg
}

func tokenCommand() *cobra.Command {
	var user, name string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "为用户签发访问令牌",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if name == "" {
				name = user
			}
			token, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).
				Issue(models.Identity{UserID: user, DisplayName: name})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "用户 ID")
	cmd.Flags().StringVar(&name, "name", "", "显示名，默认与用户 ID 相同")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动游戏服务",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			logger := commonRun(cfg.Server.Debug)
			if err := serveRun(cmd.Context(), cfg, logger); err != nil {
				logger.Error("server stopped", "error", err, "component", programName)
				os.Exit(1)
			}
		},
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   programName,
		Short: "频道狼人杀游戏服务",
	}
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.AddCommand(serveCommand(), tokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
