package command

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/IMBotPlatform/StreamChat/pkg/chat"
)

// BuiltinFactory 返回内置斜杠命令树：/help /reset /history /model /models。
func BuiltinFactory() CommandFactory {
	return func() *cobra.Command {
		root := &cobra.Command{
			Use:           "streamchat",
			Short:         "StreamChat commands",
			SilenceUsage:  true,
			SilenceErrors: true,
		}
		root.SetHelpCommand(newHelpCmd(root))
		root.AddCommand(newResetCmd(), newHistoryCmd(), newModelCmd(), newModelsCmd())
		return root
	}
}

func newHelpCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "help",
		Short: "Show available commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println("Available commands:")
			for _, c := range root.Commands() {
				if c.Hidden {
					continue
				}
				cmd.Printf("  /%-18s %s\n", c.Use, c.Short)
			}
			cmd.Println("Anything else is sent to the assistant.")
			return nil
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the conversation history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			execCtx := FromContext(cmd.Context())
			if execCtx == nil || execCtx.Chat() == nil {
				return ErrBackendUnavailable
			}
			if err := execCtx.Chat().Reset(cmd.Context(), execCtx.ConversationKey()); err != nil {
				return err
			}
			cmd.Println("Conversation cleared.")
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [n]",
		Short: "Show the last n messages (default 10)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			execCtx := FromContext(cmd.Context())
			if execCtx == nil || execCtx.Chat() == nil {
				return ErrBackendUnavailable
			}
			limit := 10
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid count %q", args[0])
				}
				limit = n
			}
			history, err := execCtx.Chat().History(cmd.Context(), execCtx.ConversationKey())
			if err != nil {
				return err
			}
			visible := history.Visible()
			if len(visible) == 0 {
				cmd.Println("No messages yet.")
				return nil
			}
			if len(visible) > limit {
				visible = visible[len(visible)-limit:]
			}
			for _, m := range visible {
				cmd.Printf("%s: %s\n", roleLabel(m.Role), m.Content)
			}
			return nil
		},
	}
}

func newModelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "model [name]",
		Short: "Show or switch the model for this conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			execCtx := FromContext(cmd.Context())
			if execCtx == nil || execCtx.Models() == nil {
				return ErrBackendUnavailable
			}
			catalog := execCtx.Models()
			if len(args) == 0 {
				cmd.Printf("Current model: %s\n", CurrentModel(execCtx.Values, catalog))
				return nil
			}
			name := args[0]
			if !catalog.HasModel(name) {
				return fmt.Errorf("%w: %s (see /models)", ErrUnknownModel, name)
			}
			if name == catalog.DefaultModel() {
				name = ""
			}
			if err := execCtx.SaveValue(ValueModel, name); err != nil {
				return err
			}
			cmd.Printf("Model switched to %s.\n", args[0])
			return nil
		},
	}
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			execCtx := FromContext(cmd.Context())
			if execCtx == nil || execCtx.Models() == nil {
				return ErrBackendUnavailable
			}
			current := CurrentModel(execCtx.Values, execCtx.Models())
			for _, m := range execCtx.Models().Models() {
				marker := " "
				if m.Name == current {
					marker = "*"
				}
				cmd.Printf("%s %s (%s/%s)\n", marker, m.Name, m.Provider, m.ModelName)
			}
			return nil
		},
	}
}

// CurrentModel 返回会话选择的模型，未选择时为默认模型。
func CurrentModel(values ContextValues, catalog ModelCatalog) string {
	if name := values[ValueModel]; name != "" {
		return name
	}
	if catalog == nil {
		return ""
	}
	return catalog.DefaultModel()
}

func roleLabel(r chat.Role) string {
	switch r {
	case chat.RoleUser:
		return "You"
	case chat.RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}
