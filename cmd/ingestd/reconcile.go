package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"knowledge-base-backend/app"
	"knowledge-base-backend/service/index"

	"github.com/spf13/cobra"
)

var errInconsistent = errors.New("indexes are inconsistent")

var (
	reconcileTeam   string
	reconcileApp    string
	reconcileRepair bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <collection>",
	Short: "Compare the vector and search indexes of a collection",
	Long: `Compare primary keys between the vector index and the search index of a
collection and print the difference as JSON. With --repair, records found in
only one index are written to the other; search-only records are re-embedded
with the collection's embedding model.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := app.New(ctx, cfg, logger, app.Options{Version: Version})
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(context.Background()); err != nil {
				logger.Error("failed to close app", "err", err)
			}
		}()

		coll, err := a.Collection.FindCollectionByName(ctx, reconcileTeam, args[0])
		if err != nil {
			return err
		}
		target := index.NewTarget(reconcileApp, coll.Name)

		report, err := a.Reconciler.Check(ctx, target)
		if err != nil {
			return err
		}
		if reconcileRepair && !report.Consistent() {
			if err := a.Reconciler.Repair(ctx, target, coll.EmbeddingModel, report); err != nil {
				return err
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		if !reconcileRepair && !report.Consistent() {
			return errInconsistent
		}
		return nil
	},
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileTeam, "team", "", "team id owning the collection")
	reconcileCmd.Flags().StringVar(&reconcileApp, "app", "", "app id the search index belongs to")
	reconcileCmd.Flags().BoolVar(&reconcileRepair, "repair", false, "write missing records to the other index")
	_ = reconcileCmd.MarkFlagRequired("team")
	_ = reconcileCmd.MarkFlagRequired("app")
}
