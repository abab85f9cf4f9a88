package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bdobrica/rivanna/internal/rivanna/app"
	"github.com/bdobrica/rivanna/internal/rivanna/memory"
	"github.com/bdobrica/rivanna/internal/rivanna/store"
)

var memoryScope string

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage what Rivanna remembers",
	Long: `Manage the long-term memories of a scope.

A scope is the Matrix space ID of a group of rooms, or the room ID of a room
outside any space. These commands use the same backend as serve.

Examples:
  rivanna memory teach --scope '!abc:example.org' Bob prefers tea over coffee
  rivanna memory list --scope '!abc:example.org'
  rivanna memory forget --scope '!abc:example.org' 2`,
}

var memoryTeachCmd = &cobra.Command{
	Use:   "teach <text>",
	Short: "Remember a fact",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLibrary(cmd.Context(), func(lib *memory.Library) error {
			text := strings.Join(args, " ")
			if err := lib.Teach(cmd.Context(), memoryScope, text); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Remembered %q\n", text)
			return nil
		})
	},
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLibrary(cmd.Context(), func(lib *memory.Library) error {
			records, err := lib.List(cmd.Context(), memoryScope)
			if err != nil {
				return err
			}
			for i, rec := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, rec.Text)
			}
			return nil
		})
	},
}

var memoryForgetCmd = &cobra.Command{
	Use:   "forget <n>",
	Short: "Forget the n-th memory of list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%q is not a memory number", args[0])
		}
		return withLibrary(cmd.Context(), func(lib *memory.Library) error {
			rec, err := lib.Forget(cmd.Context(), memoryScope, n)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Forgot %q\n", rec.Text)
			return nil
		})
	},
}

func init() {
	memoryCmd.PersistentFlags().StringVar(&memoryScope, "scope", "", "space or room ID (required)")
	_ = memoryCmd.MarkPersistentFlagRequired("scope")
	memoryCmd.AddCommand(memoryTeachCmd, memoryListCmd, memoryForgetCmd)
}

// withLibrary opens the configured memory backend for the duration of fn.
func withLibrary(ctx context.Context, fn func(*memory.Library) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	config, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.New(config.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	mem, err := app.OpenMemory(ctx, config.Memory, config.OpenAI, db.DB(), slog.Default())
	if err != nil {
		return err
	}
	defer mem.Close()

	return fn(mem.Library(slog.Default()))
}
