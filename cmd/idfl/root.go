package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hupe1980/idfreelist"
	"github.com/hupe1980/idfreelist/blobstore"
	blobminio "github.com/hupe1980/idfreelist/blobstore/minio"
	blobs3 "github.com/hupe1980/idfreelist/blobstore/s3"
	"github.com/hupe1980/idfreelist/checkpoint"
	"github.com/hupe1980/idfreelist/journal"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose     bool
	quiet       bool
	jsonOut     bool
	compression string
	durability  string

	s3Bucket string
	s3Prefix string
	s3Region string
	ddbTable string

	minioEndpoint  string
	minioBucket    string
	minioPrefix    string
	minioAccessKey string
	minioSecretKey string
	minioSecure    bool
)

var rootCmd = &cobra.Command{
	Use:   "idfl",
	Short: "Inspect and edit idfreelist registries",
	Long: `idfl opens an idfreelist registry directory, replays its snapshot and
journal, and lets you look up, assign and release ids, verify the allocator
state, or write a fresh checkpoint.

Snapshots are read from the registry directory unless --s3-bucket or
--minio-endpoint points at a remote store.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().
		StringVar(&compression, "compression", "lz4", "Checkpoint compression (none, lz4, zstd)")
	rootCmd.PersistentFlags().
		StringVar(&durability, "durability", "sync", "Journal durability (async, group-commit, sync)")

	rootCmd.PersistentFlags().StringVar(&s3Bucket, "s3-bucket", "", "Store checkpoints in this S3 bucket")
	rootCmd.PersistentFlags().StringVar(&s3Prefix, "s3-prefix", "", "Key prefix inside the S3 bucket")
	rootCmd.PersistentFlags().StringVar(&s3Region, "s3-region", "", "AWS region (defaults to the AWS config)")
	rootCmd.PersistentFlags().
		StringVar(&ddbTable, "ddb-table", "", "DynamoDB table holding the CURRENT pointer (requires --s3-bucket)")

	rootCmd.PersistentFlags().StringVar(&minioEndpoint, "minio-endpoint", "", "Store checkpoints on this MinIO endpoint")
	rootCmd.PersistentFlags().StringVar(&minioBucket, "minio-bucket", "idfreelist", "MinIO bucket")
	rootCmd.PersistentFlags().StringVar(&minioPrefix, "minio-prefix", "", "Key prefix inside the MinIO bucket")
	rootCmd.PersistentFlags().
		StringVar(&minioAccessKey, "minio-access-key", os.Getenv("MINIO_ACCESS_KEY"), "MinIO access key")
	rootCmd.PersistentFlags().
		StringVar(&minioSecretKey, "minio-secret-key", os.Getenv("MINIO_SECRET_KEY"), "MinIO secret key")
	rootCmd.PersistentFlags().BoolVar(&minioSecure, "minio-secure", false, "Use TLS for MinIO")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

// openRegistry opens dir with the store and codec selected by the global flags.
func openRegistry(ctx context.Context, dir string) (*idfreelist.Registry, error) {
	codec, err := checkpoint.ParseCompression(compression)
	if err != nil {
		return nil, err
	}
	mode, err := parseDurability(durability)
	if err != nil {
		return nil, err
	}

	opts := []idfreelist.Option{
		idfreelist.WithCheckpointCompression(codec),
		idfreelist.WithJournalOptions(func(o *journal.Options) {
			o.DurabilityMode = mode
		}),
	}
	if verbose && !quiet {
		opts = append(opts, idfreelist.WithLogLevel(slog.LevelDebug))
	}

	store, err := remoteStore(ctx)
	if err != nil {
		return nil, err
	}
	if store != nil {
		opts = append(opts, idfreelist.WithCheckpointStore(store))
	}

	printVerbose("Opening registry: %s\n", dir)
	r, err := idfreelist.Open(ctx, dir, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	return r, nil
}

// remoteStore builds the checkpoint store named by the flags, or nil for the
// registry directory.
func remoteStore(ctx context.Context) (blobstore.Store, error) {
	switch {
	case s3Bucket != "" && minioEndpoint != "":
		return nil, errors.New("--s3-bucket and --minio-endpoint are mutually exclusive")

	case s3Bucket != "":
		var loadOpts []func(*config.LoadOptions) error
		if s3Region != "" {
			loadOpts = append(loadOpts, config.WithRegion(s3Region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		printVerbose("Using S3 bucket %s (prefix %q)\n", s3Bucket, s3Prefix)

		var store blobstore.Store = blobs3.NewStore(awss3.NewFromConfig(cfg), s3Bucket, s3Prefix)
		if ddbTable != "" {
			baseURI := "s3://" + s3Bucket + "/" + strings.Trim(s3Prefix, "/")
			printVerbose("Committing CURRENT through DynamoDB table %s\n", ddbTable)
			store = blobs3.NewDDBCommitStore(store, dynamodb.NewFromConfig(cfg), ddbTable, baseURI)
		}
		return store, nil

	case minioEndpoint != "":
		client, err := minio.New(minioEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(minioAccessKey, minioSecretKey, ""),
			Secure: minioSecure,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create MinIO client: %w", err)
		}
		store := blobminio.NewStore(client, minioBucket, minioPrefix)
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		printVerbose("Using MinIO %s/%s\n", minioEndpoint, minioBucket)
		return store, nil

	case ddbTable != "":
		return nil, errors.New("--ddb-table requires --s3-bucket")
	}
	return nil, nil
}

func parseDurability(s string) (journal.DurabilityMode, error) {
	for _, m := range []journal.DurabilityMode{journal.DurabilityAsync, journal.DurabilityGroupCommit, journal.DurabilitySync} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown durability mode %q", s)
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
