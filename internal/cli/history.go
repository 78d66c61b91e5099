// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/ollachat/internal/model"
	"github.com/jeranaias/ollachat/internal/session"
	"github.com/jeranaias/ollachat/internal/storage"
)

// =============================================================================
// HISTORY
// =============================================================================

type historyCommander struct {
	global  *globalOptions
	limit   int
	delete  bool
	jsonOut bool
}

// conversationJSON is the payload of `history ID --json`.
type conversationJSON struct {
	storage.ConversationMeta
	Turns []turnJSON `json:"turns"`
}

func newHistoryCmd(g *globalOptions) *cobra.Command {
	cmder := &historyCommander{global: g}

	cmd := &cobra.Command{
		Use:   "history [ID]",
		Short: "List or show stored conversations",
		Long: `Without an argument, list stored conversations, most recent first.
With an ID (or a unique prefix of one), print that conversation.

Continue a conversation in the chat with /resume ID.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args)
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&cmder.limit, "limit", "n", 20, "Number of conversations to list (0 for all)")
	flags.BoolVar(&cmder.delete, "delete", false, "Delete the conversation instead of printing it")
	flags.BoolVar(&cmder.jsonOut, "json", false, "Output as JSON")
	return cmd
}

func (c *historyCommander) run(ctx context.Context, cmd *cobra.Command, args []string) error {
	if c.delete && len(args) == 0 {
		return &usageError{msg: "--delete needs a conversation ID"}
	}

	a, err := newApp(c.global, appOptions{withHistory: true, logWriter: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Close()
	if a.history == nil {
		return session.ErrHistoryDisabled
	}

	out := cmd.OutOrStdout()
	switch {
	case len(args) == 0:
		metas, err := a.history.List(ctx, c.limit)
		if c.jsonOut {
			return writeJSON(out, "history", metas, err)
		}
		if err != nil {
			return err
		}
		fmt.Fprint(out, storage.FormatList(metas))
		if len(metas) == 0 {
			fmt.Fprintln(out)
		}
		return nil

	case c.delete:
		id, err := a.history.Resolve(ctx, args[0])
		if err == nil {
			err = a.history.Delete(ctx, id)
		}
		if c.jsonOut {
			return writeJSON(out, "history", map[string]string{"deleted": id}, err)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, successStyle.Render("Deleted "+storage.ShortID(id)))
		return nil

	default:
		meta, turns, err := a.history.Load(ctx, args[0])
		if c.jsonOut {
			return writeJSON(out, "history", conversationJSON{ConversationMeta: meta, Turns: toTurnJSON(turns)}, err)
		}
		if err != nil {
			return err
		}
		printConversation(out, meta, turns)
		return nil
	}
}

func printConversation(w io.Writer, meta storage.ConversationMeta, turns []model.Turn) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s  %s  %s",
		storage.ShortID(meta.ID), meta.Model, meta.UpdatedAt.Format("2006-01-02 15:04"))))

	for _, t := range turns {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render(t.Role.DisplayName()+":"))
		if t.ReasoningText != "" {
			fmt.Fprintln(w, reasoningStyle.Render(strings.TrimSpace(t.ReasoningText)))
		}
		if t.Failed {
			if t.PartialText != "" {
				fmt.Fprintln(w, t.PartialText)
			}
			fmt.Fprintln(w, warningStyle.Render("["+t.FailureReason+"]"))
			continue
		}
		fmt.Fprintln(w, t.Text)
	}
}
