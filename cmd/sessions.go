package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mariobot/internal/config"
	"mariobot/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored conversation sessions",
	RunE:  runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := makeStore(cfg)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	lister, ok := store.(session.Lister)
	if !ok {
		return fmt.Errorf("store backend %q cannot list sessions", cfg.Store.Backend)
	}

	summaries, err := lister.List(context.Background())
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Println("No sessions stored.")
		return nil
	}

	fmt.Printf("%-20s %-8s %-8s %-8s %s\n", "SENDER", "GREETED", "MEMBER", "HISTORY", "UPDATED")
	for _, s := range summaries {
		fmt.Printf("%-20s %-8v %-8v %-8d %s\n", s.SenderID, s.Greeted, s.IsMember, s.HistoryLen, s.UpdatedAt)
	}
	return nil
}
