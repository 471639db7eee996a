package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"classdesk/api/internal/local"
	"classdesk/api/internal/merge"
	"github.com/spf13/cobra"
)

var (
	localCmd = &cobra.Command{
		Use:   "local",
		Short: "Inspect or reset the document stored on this device",
	}

	localShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the local document as the engine would load it",
		RunE:  runLocalShow,
	}

	localClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove the local document",
		RunE:  runLocalClear,
	}
)

func init() {
	localCmd.AddCommand(localShowCmd, localClearCmd)
}

func openLocal(cmd *cobra.Command) (*local.FileStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return local.NewFileStore(cfg.DataDir, cfg.LocalKey, newLogger(cfg))
}

func runLocalShow(cmd *cobra.Command, _ []string) error {
	store, err := openLocal(cmd)
	if err != nil {
		return err
	}
	partial, err := store.Load()
	if errors.Is(err, local.ErrNotFound) {
		fmt.Fprintf(cmd.ErrOrStderr(), "no local document at %s, showing defaults\n", store.Path())
		partial = nil
	} else if err != nil {
		return err
	}

	doc, report := merge.Reconcile(partial)
	if !report.Clean() {
		out, _ := json.Marshal(report)
		fmt.Fprintf(cmd.ErrOrStderr(), "reconcile report: %s\n", out)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runLocalClear(cmd *cobra.Command, _ []string) error {
	store, err := openLocal(cmd)
	if err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", store.Path())
	return nil
}
