package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/IMBotPlatform/StreamChat/internal/app"
	"github.com/IMBotPlatform/StreamChat/internal/cli/ui"
	"github.com/IMBotPlatform/StreamChat/pkg/botcore"
	"github.com/IMBotPlatform/StreamChat/pkg/chat"
	"github.com/IMBotPlatform/StreamChat/pkg/command"
	"github.com/IMBotPlatform/StreamChat/pkg/config"
	"github.com/IMBotPlatform/StreamChat/pkg/pipeline"
	"github.com/IMBotPlatform/StreamChat/pkg/stream"
)

const (
	firstPlaceholder    = "Ask me anything..."
	followUpPlaceholder = "Ask a follow-up question..."
)

// ErrQuit 表示用户结束了交互（exit、Ctrl-C 或输入结束）。
var ErrQuit = errors.New("quit")

// Prompter 读取一行用户输入，message 为提示文本。
type Prompter func(message string) (string, error)

// SurveyPrompt 使用 survey 读取输入，Ctrl-C 与 EOF 映射为 ErrQuit。
func SurveyPrompt(message string) (string, error) {
	var line string
	err := survey.AskOne(&survey.Input{Message: message}, &line)
	if errors.Is(err, terminal.InterruptErr) || errors.Is(err, io.EOF) {
		return "", ErrQuit
	}
	return line, err
}

type chatOptions struct {
	conversation string
	model        string
	verbose      bool
}

func newChatCmd(rt *Runtime) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session in the terminal.

Replies are printed as they stream in. Lines starting with "/" are commands
(/help, /reset, /history, /model, /models). Ctrl-C while a reply is
streaming cancels that reply; Ctrl-C at the prompt or "exit" quits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.verbose {
				rt.configure = quietLogs
			}
			a, err := rt.loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			id := opts.conversation
			if id == "" {
				id = uuid.NewString()
			}
			if opts.model != "" {
				if !a.Models.HasModel(opts.model) {
					return fmt.Errorf("%w: %s", command.ErrUnknownModel, opts.model)
				}
				if err := a.SetModel(id, opts.model); err != nil {
					return err
				}
			}

			values, _ := a.Values.Load(id)
			ui.PrintWelcome(rt.Out, id, command.CurrentModel(values, a.Models))
			return newREPL(a, id, rt.Prompt, rt.Out).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&opts.conversation, "conversation", "", "conversation id to resume (default: new id)")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "model name from config")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "keep configured log level")
	return cmd
}

// quietLogs 交互模式下日志与回复共用终端，只保留警告以上。
func quietLogs(cfg *config.Config) {
	if cfg.Log.Level == "" || cfg.Log.Level == "debug" || cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}
}

// repl 是终端会话循环。
//
//	prompt --"/"--> command.Manager -> 渲染最终快照
//	   |
//	   +--其它--> chat.Service.Send(TerminalSink)
//	                 |
//	          Ctrl-C 仅取消本轮回复
type repl struct {
	app    *app.App
	id     string
	prompt Prompter
	out    io.Writer
	sink   *ui.TerminalSink

	// interrupt 生成本轮回复的上下文，默认监听 SIGINT。
	interrupt func(ctx context.Context) (context.Context, context.CancelFunc)
}

func newREPL(a *app.App, id string, prompt Prompter, out io.Writer) *repl {
	return &repl{
		app:    a,
		id:     id,
		prompt: prompt,
		out:    out,
		sink:   ui.NewTerminalSink(out),
		interrupt: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		},
	}
}

// Run 循环读取输入直到用户退出。
func (r *repl) Run(ctx context.Context) error {
	placeholder := firstPlaceholder
	for {
		line, err := r.prompt(placeholder)
		if errors.Is(err, ErrQuit) {
			return nil
		}
		if err != nil {
			return err
		}
		text := strings.TrimSpace(line)
		switch strings.ToLower(text) {
		case "exit", "quit":
			return nil
		}

		if pipeline.IsCommand(text) {
			r.runCommand(text)
			continue
		}
		if r.runTurn(ctx, line) {
			placeholder = followUpPlaceholder
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *repl) runCommand(text string) {
	update := botcore.Update{
		ID:       uuid.NewString(),
		SenderID: r.id,
		Text:     text,
		Metadata: map[string]string{"platform": "cli"},
	}
	for chunk := range r.app.Commands.Trigger(update, update.ID) {
		_ = r.sink.Render(context.Background(), stream.Snapshot{Content: chunk.Content, Failed: chunk.Failed})
	}
	r.sink.Finish()
}

// runTurn 执行一轮对话，返回是否产生了回复。
func (r *repl) runTurn(ctx context.Context, line string) bool {
	turnCtx, stop := r.interrupt(ctx)
	defer stop()

	var opts []chat.TurnOption
	if model := r.app.Model(r.id); model != "" {
		opts = append(opts, chat.WithModel(model))
	}
	res, err := r.app.Chat.Send(turnCtx, r.id, line, r.sink, opts...)
	r.sink.Finish()

	switch {
	case errors.Is(err, chat.ErrEmptyInput):
		ui.PrintWarning(r.out, "%s", pipeline.EmptyInputWarning)
	case errors.Is(err, chat.ErrTurnInProgress):
		ui.PrintWarning(r.out, "%s", pipeline.BusyWarning)
	case errors.Is(err, context.Canceled):
		ui.PrintInfo(r.out, "reply canceled")
	case err != nil:
		ui.PrintError(r.out, "%v", err)
	}
	return err == nil && res.Outcome != stream.Canceled
}
