package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mr-Dark-debug/treesnap/internal/config"
	"github.com/Mr-Dark-debug/treesnap/internal/fixture"
	"github.com/Mr-Dark-debug/treesnap/internal/ingestion"
)

var pushCmd = &cobra.Command{
	Use:   "push <fixture.yaml>",
	Short: "Send a fixture tree to the mirror daemon",
	Long: `Reads the nodes and capabilities of a fixture file and sends them to a
running treesnap-daemon as one batch, replacing mirrored nodes with the
same ids.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Daemon.ListenAddr
		}

		f, err := fixture.Load(args[0])
		if err != nil {
			return err
		}

		batch := &ingestion.BatchMessage{}
		for _, id := range f.Store.IDs() {
			n, err := f.Store.Get(background(cmd), id)
			if err != nil {
				return err
			}
			batch.Upserts = append(batch.Upserts, n)
		}
		caps := f.Store.Capabilities()
		batch.Capabilities = &caps

		client, err := ingestion.Dial(addr, 5*time.Second)
		if err != nil {
			return fmt.Errorf("connecting to daemon at %s: %w", addr, err)
		}
		defer client.Close()

		if err := client.Batch(batch); err != nil {
			return err
		}
		fmt.Printf("pushed %d nodes to %s (root %s)\n", len(batch.Upserts), addr, f.Root)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pushCmd)

	pushCmd.Flags().String("addr", "", "Daemon address (default: daemon.listen_addr)")
}
