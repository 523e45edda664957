package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/offline-hub/offline-hub/internal/config"
	"github.com/offline-hub/offline-hub/internal/logging"
)

// cliOptions 汇总 CLI 解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath string
	command    string
}

const (
	commandServe       = "serve"
	commandCheckConfig = "check-config"
	commandClearCache  = "clear-cache"
	commandVersion     = "version"
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute 构建 cobra 命令树并返回退出码；未指定子命令时等价于 serve。
func execute(args []string) int {
	exitCode := 0
	var configFlag string

	runWith := func(command string) func(*cobra.Command, []string) error {
		return func(*cobra.Command, []string) error {
			exitCode = run(cliOptions{
				configPath: resolveConfigPath(configFlag),
				command:    command,
			})
			return nil
		}
	}

	rootCmd := &cobra.Command{
		Use:           "offline-hub",
		Short:         "Offline-caching intermediary for installable web apps.",
		RunE:          runWith(commandServe),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "配置文件路径（默认 ./config.toml，可被 OFFLINE_HUB_CONFIG 覆盖）")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   commandServe,
			Short: "Install, activate and serve the caching proxy.",
			RunE:  runWith(commandServe),
		},
		&cobra.Command{
			Use:   commandCheckConfig,
			Short: "Validate the configuration file and exit.",
			RunE:  runWith(commandCheckConfig),
		},
		&cobra.Command{
			Use:   commandClearCache,
			Short: "Delete every cache namespace in the configured store.",
			RunE:  runWith(commandClearCache),
		},
		&cobra.Command{
			Use:   commandVersion,
			Short: "Print version information.",
			RunE:  runWith(commandVersion),
		},
	)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdOut)
	rootCmd.SetErr(stdErr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(stdErr, "解析参数失败: %v\n", err)
		return 2
	}
	return exitCode
}

// resolveConfigPath 计算最终配置路径：命令行 > OFFLINE_HUB_CONFIG > ./config.toml。
func resolveConfigPath(flagValue string) string {
	if path := strings.TrimSpace(flagValue); path != "" {
		return path
	}
	if overrides, err := config.ParseEnv(); err == nil && overrides.ConfigPath != "" {
		return overrides.ConfigPath
	}
	return "config.toml"
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.command == commandVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	switch opts.command {
	case commandCheckConfig:
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["origins"] = config.OriginNames(cfg.Origins)
		fields["storage_driver"] = cfg.Global.StorageDriver
		fields["manifest"] = len(cfg.App.Manifest)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	case commandClearCache:
		if err := clearCache(context.Background(), cfg, logger); err != nil {
			fmt.Fprintf(stdErr, "清理缓存失败: %v\n", err)
			return 1
		}
		return 0
	default:
		if err := serve(cfg, opts.configPath, logger); err != nil {
			fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
			return 1
		}
		return 0
	}
}
