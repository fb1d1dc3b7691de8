package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/IMBotPlatform/StreamChat/internal/cli/ui"
	"github.com/IMBotPlatform/StreamChat/pkg/command"
)

func newHistoryCmd(rt *Runtime) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print a conversation's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			h, err := a.Chat.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			msgs := h.Visible()
			if all {
				msgs = h.Messages()
			}
			ui.RenderHistory(rt.Out, msgs)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include the system message")
	return cmd
}

func newResetCmd(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <conversation-id>",
		Short: "Clear a conversation's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Chat.Reset(cmd.Context(), args[0]); err != nil {
				return err
			}
			ui.PrintSuccess(rt.Out, "conversation %s cleared", args[0])
			return nil
		},
	}
}

func newModelsCmd(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			current := command.CurrentModel(nil, a.Models)
			for _, m := range a.Models.Models() {
				marker := " "
				if m.Name == current {
					marker = "*"
				}
				fmt.Fprintf(rt.Out, "%s %s (%s/%s)\n", marker, m.Name, m.Provider, m.ModelName)
			}
			return nil
		},
	}
}
