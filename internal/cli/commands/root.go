// Package commands 定义 streamchat 命令行的 cobra 命令树。
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/IMBotPlatform/StreamChat/internal/app"
	"github.com/IMBotPlatform/StreamChat/internal/cli/ui"
	"github.com/IMBotPlatform/StreamChat/pkg/config"
)

const version = "0.1.0"

// envConfigPath 在未指定 --config 时提供配置文件路径。
const envConfigPath = "STREAMCHAT_CONFIG"

// Runtime 汇集命令运行所需的可替换依赖。
type Runtime struct {
	ConfigPath string
	AppOptions []app.Option
	Prompt     Prompter
	Out        io.Writer
	Err        io.Writer

	// configure 在装配前调整配置，例如交互模式下压低日志级别。
	configure func(*config.Config)
}

// NewRootCmd 构建根命令。
func NewRootCmd(rt *Runtime) *cobra.Command {
	if rt == nil {
		rt = &Runtime{}
	}
	if rt.Out == nil {
		rt.Out = os.Stdout
	}
	if rt.Err == nil {
		rt.Err = os.Stderr
	}
	if rt.Prompt == nil {
		rt.Prompt = SurveyPrompt
	}

	root := &cobra.Command{
		Use:     "streamchat",
		Short:   "Streaming chat assistant",
		Version: version,
		Long: `StreamChat drives multi-turn conversations against configurable LLM
providers and renders replies as they stream in. It runs as an interactive
terminal client or as an HTTP server (SSE, WebSocket and WeCom callbacks).`,
		Example: `  # Start an interactive session with the default model
  $ streamchat chat

  # Resume a conversation with a specific model
  $ streamchat chat --conversation 42 --model fast

  # Serve HTTP with a config file
  $ streamchat serve --config streamchat.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(rt.Out)
	root.SetErr(rt.Err)
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&rt.ConfigPath, "config", "c", rt.ConfigPath,
		"path to YAML config (default $"+envConfigPath+", then built-in defaults)")

	root.AddCommand(
		newChatCmd(rt),
		newServeCmd(rt),
		newHistoryCmd(rt),
		newResetCmd(rt),
		newModelsCmd(rt),
	)
	root.SetUsageTemplate(usageTemplate())
	return root
}

// Execute 运行命令行并在失败时打印错误。
func Execute() error {
	rt := &Runtime{}
	root := NewRootCmd(rt)
	if err := root.Execute(); err != nil {
		ui.PrintError(rt.Err, "%v", err)
		return err
	}
	return nil
}

// loadApp 读取配置并装配组件，调用方负责 Close。
func (rt *Runtime) loadApp(cmd *cobra.Command) (*app.App, error) {
	path := rt.ConfigPath
	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if rt.configure != nil {
		rt.configure(cfg)
	}
	a, err := app.New(cmd.Context(), cfg, rt.AppOptions...)
	if err != nil {
		return nil, fmt.Errorf("startup failed: %w", err)
	}
	return a, nil
}

func usageTemplate() string {
	return `` + ui.Styles.Bold.Render("USAGE") + `
  {{.UseLine}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}

{{if .HasExample}}` + ui.Styles.Bold.Render("EXAMPLES") + `
{{.Example}}

{{end}}{{if .HasAvailableSubCommands}}` + ui.Styles.Bold.Render("COMMANDS") + `{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasAvailableLocalFlags}}` + ui.Styles.Bold.Render("OPTIONS") + `
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableInheritedFlags}}` + ui.Styles.Bold.Render("GLOBAL OPTIONS") + `
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableSubCommands}}Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`
}
