package listener

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/tidalhq/tidal/internal/postgres"
)

// notifyFunctionSQL installs the row-change notify function. It emits the
// same payload on two channels: table:<name> for realtime subscribers and
// <name>_changes for database triggers.
const notifyFunctionSQL = `
CREATE OR REPLACE FUNCTION tidal_notify_change() RETURNS trigger AS $$
DECLARE
  payload text;
BEGIN
  payload := json_build_object(
    'event', TG_OP,
    'table', TG_TABLE_NAME,
    'new', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE row_to_json(NEW) END,
    'old', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE row_to_json(OLD) END
  )::text;
  PERFORM pg_notify('table:' || TG_TABLE_NAME, payload);
  PERFORM pg_notify(TG_TABLE_NAME || '_changes', payload);
  RETURN COALESCE(NEW, OLD);
END;
$$ LANGUAGE plpgsql;
`

// Installer performs idempotent installation of the notify function and
// per-table row triggers.
type Installer struct {
	pool *postgres.Pool
}

// NewInstaller creates an installer over the pool.
func NewInstaller(pool *postgres.Pool) *Installer {
	return &Installer{pool: pool}
}

// EnsureNotifyFunction installs or replaces the shared notify function.
func (i *Installer) EnsureNotifyFunction(ctx context.Context) error {
	if err := i.pool.Exec(ctx, notifyFunctionSQL); err != nil {
		return fmt.Errorf("installing notify function: %w", err)
	}
	return nil
}

// EnsureTableTrigger attaches the notify trigger to a table, creating it
// only if absent. A missing table is logged and skipped; installation is
// retried the next time a listener is requested for that table.
func (i *Installer) EnsureTableTrigger(ctx context.Context, table string) error {
	var exists bool
	err := i.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", table).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking table %q: %w", table, err)
	}
	if !exists {
		log.Warn().Str("table", table).Msg("Table does not exist yet, trigger installation deferred")
		return nil
	}

	var hasTrigger bool
	err = i.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = $1 AND tgrelid = $2::regclass)",
		"tidal_notify_"+table, table,
	).Scan(&hasTrigger)
	if err != nil {
		return fmt.Errorf("checking trigger on %q: %w", table, err)
	}
	if hasTrigger {
		return nil
	}

	sql := fmt.Sprintf(
		"CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION tidal_notify_change()",
		pgx.Identifier{"tidal_notify_" + table}.Sanitize(),
		pgx.Identifier{table}.Sanitize(),
	)
	if err := i.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("installing trigger on %q: %w", table, err)
	}

	log.Info().Str("table", table).Msg("Change trigger installed")
	return nil
}

// EnsureTables runs EnsureTableTrigger over a set of tables, logging and
// continuing on per-table failures.
func (i *Installer) EnsureTables(ctx context.Context, tables []string) {
	for _, table := range tables {
		if err := i.EnsureTableTrigger(ctx, table); err != nil {
			log.Warn().Err(err).Str("table", table).Msg("Trigger installation failed")
		}
	}
}
