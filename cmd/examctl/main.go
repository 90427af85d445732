package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/config"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"github.com/SAP-F-2025/exam-session-service/pkg"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "examctl",
		Short:         "Administrative tasks for the exam session service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(migrateCmd(), importCmd())
	return root
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			db, err := pkg.InitDatabase(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			logger.Info("Schema migrated")
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <workbook.xlsx>",
		Short: "Import an exam set from an .xlsx workbook",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("title", "", "Exam set title (required)")
	f.String("description", "", "Exam set description")
	f.Int("time-limit", 0, "Full-test time limit in minutes (0 = unlimited)")
	f.StringSlice("part-minutes", nil, "Per-part practice minutes as part=minutes (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	f := cmd.Flags()
	opts := services.ImportOptions{}
	opts.Title, _ = f.GetString("title")
	opts.TimeLimitMinutes, _ = f.GetInt("time-limit")
	if desc, _ := f.GetString("description"); desc != "" {
		opts.Description = &desc
	}
	raw, _ := f.GetStringSlice("part-minutes")
	if opts.PartMinutes, err = parsePartMinutes(raw); err != nil {
		return err
	}

	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer file.Close()

	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)

	repo := postgres.NewPostgreSQLRepository(postgres.RepositoryConfig{DB: db})
	importer := services.NewImportService(repo, logger, validator.New())

	report, err := importer.ImportWorkbook(cmd.Context(), file, opts)
	if err != nil {
		var verrs services.ValidationErrors
		if errors.As(err, &verrs) {
			for _, v := range verrs {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s (%s)\n", v.Field, v.Message, v.Rule)
			}
		}
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// parsePartMinutes reads entries like "5=15".
func parsePartMinutes(entries []string) (map[models.Part]int, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[models.Part]int, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --part-minutes entry %q, want part=minutes", entry)
		}
		part, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || !models.Part(part).Valid() {
			return nil, fmt.Errorf("invalid part in %q", entry)
		}
		minutes, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || minutes < 0 {
			return nil, fmt.Errorf("invalid minutes in %q", entry)
		}
		out[models.Part(part)] = minutes
	}
	return out, nil
}

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	return cfg, logger, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
