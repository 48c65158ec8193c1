package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/vigil/pkg/ingest"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/storage"
)

// ingestCmd runs C4's protocol (spec.md §4.1) for a single local file.
// The multipart HTTP front-end that would normally call this is the
// external request router (spec.md §1 Non-goals); this subcommand is
// the in-scope entry point for a file already on disk.
var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest one artifact: hash, store, and publish artifact.uploaded",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		tenantID, _ := cmd.Flags().GetString("tenant")
		uploadedBy, _ := cmd.Flags().GetString("uploaded-by")
		declaredMIME, _ := cmd.Flags().GetString("mime")
		if tenantID == "" {
			return fmt.Errorf("--tenant is required")
		}

		ctx := context.Background()

		store, err := openStore(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer store.Close()

		objects, err := openObjectStore(ctx, cfg.ObjectStore)
		if err != nil {
			return err
		}

		b, err := connectBus(cfg.Bus)
		if err != nil {
			return err
		}
		defer b.Close()

		outbox, err := storage.NewOutbox(cfg.Postgres.OutboxDBPath)
		if err != nil {
			return fmt.Errorf("open outbox: %w", err)
		}
		defer outbox.Close()

		keys, err := openTenantKeys(cfg.TenantKeys)
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open %s: %w", args[0], err)
		}
		defer f.Close()

		pipeline := ingest.New(store, objects, b, outbox, keys)
		trackingID := ingest.Accept()
		log.WithJobID(trackingID).Info().Str("file", args[0]).Msg("ingest: accepted")

		artifactID, err := pipeline.Run(ctx, trackingID, ingest.Upload{
			TenantID:     tenantID,
			UploadedBy:   uploadedBy,
			DeclaredMIME: declaredMIME,
			Body:         f,
		})
		if err != nil {
			return fmt.Errorf("ingest failed: %w", err)
		}

		fmt.Printf("artifact_id: %s\n", artifactID)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("tenant", "", "Tenant ID the upload belongs to (required)")
	ingestCmd.Flags().String("uploaded-by", "cli", "Identity recorded as the uploader")
	ingestCmd.Flags().String("mime", "application/octet-stream", "Client-declared MIME type")
}
