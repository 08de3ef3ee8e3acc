package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/guillermoBallester/sqlguard/internal/adapter/policy"
	"github.com/guillermoBallester/sqlguard/internal/adapter/postgres"
	"github.com/guillermoBallester/sqlguard/internal/config"
	"github.com/guillermoBallester/sqlguard/internal/core/domain"
)

// generateConfig prints a starter guard policy listing the leading index
// columns of every user table in DATABASE_URL.
func generateConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger, w io.Writer) error {
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, poolSettings(cfg))
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	logger.Info("reading index catalog",
		slog.String("db.system", "postgresql"),
		slog.String("db.connection_string", redactDSN(cfg.DatabaseURL)),
		slog.Any("schemas", cfg.Schemas),
	)

	tables, err := postgres.NewIndexCatalog(pool, cfg.Schemas).IndexedColumns(ctx)
	if err != nil {
		return fmt.Errorf("reading index catalog: %w", err)
	}

	data, err := policy.Marshal(policyFromCatalog(tables))
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// policyFromCatalog builds a postgres policy from catalog output. Tables in
// the public schema keep their bare name; others are schema-qualified.
func policyFromCatalog(tables []postgres.TableIndexes) *policy.Policy {
	pol := &policy.Policy{
		Dialect:      string(domain.DialectPostgres),
		TableConfigs: make([]policy.TableConfig, 0, len(tables)),
	}
	for _, t := range tables {
		name := t.Table
		if t.Schema != "" && t.Schema != "public" {
			name = t.Schema + "." + t.Table
		}
		pol.TableConfigs = append(pol.TableConfigs, policy.TableConfig{
			TableName:     name,
			FeatureFields: t.Columns,
		})
	}
	return pol
}
