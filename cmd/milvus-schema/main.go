package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"knowledge-base-backend/config"
	"knowledge-base-backend/dao"
	"knowledge-base-backend/response"
	"knowledge-base-backend/service/collection"
	"knowledge-base-backend/service/embedding"
	"knowledge-base-backend/service/index"

	"github.com/spf13/cobra"
)

const timeout = 30 * time.Second

var (
	configPath string
	teamID     string
	userID     string
	appID      string
	model      string
)

var rootCmd = &cobra.Command{
	Use:          "milvus-schema",
	Short:        "Create or drop knowledge base collections",
	SilenceUsage: true,
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create the collection record and its Milvus collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGateway(func(ctx context.Context, g *collection.Gateway) error {
			created, err := g.CreateCollection(ctx, collection.CreateRequest{
				TeamID:         teamID,
				UserID:         userID,
				Name:           args[0],
				EmbeddingModel: model,
			})
			if err != nil {
				return err
			}
			resp, err := response.NewCollectionResponse(created)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		})
	},
}

var dropCmd = &cobra.Command{
	Use:   "drop <name>",
	Short: "Drop the collection from Milvus, the search index and MySQL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGateway(func(ctx context.Context, g *collection.Gateway) error {
			if err := g.DeleteCollection(ctx, teamID, appID, args[0]); err != nil {
				return err
			}
			slog.Info("collection dropped", "name", args[0])
			return nil
		})
	},
}

func withGateway(fn func(ctx context.Context, g *collection.Gateway) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := dao.NewDB(cfg.MySQL.DSN)
	if err != nil {
		return err
	}
	if err := dao.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}

	milvus, err := index.NewMilvusIndex(ctx, cfg.Milvus)
	if err != nil {
		return err
	}
	defer milvus.Close(context.Background())

	g := collection.NewGateway(
		dao.NewCollectionDAO(db),
		milvus,
		dao.NewSearchRecordDAO(db),
		embedding.NewClient(cfg.Embedding, nil, nil),
		nil,
	)
	return fn(ctx, g)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&teamID, "team", "", "team id owning the collection")
	_ = rootCmd.MarkPersistentFlagRequired("team")

	createCmd.Flags().StringVar(&userID, "user", "", "user id recorded as the creator")
	createCmd.Flags().StringVar(&model, "model", "", "embedding model name from the config")
	_ = createCmd.MarkFlagRequired("model")

	dropCmd.Flags().StringVar(&appID, "app", "", "app id the search index belongs to")
	_ = dropCmd.MarkFlagRequired("app")

	rootCmd.AddCommand(createCmd, dropCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
