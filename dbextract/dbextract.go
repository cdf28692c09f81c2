// Package dbextract implements C12: the alternative, non-HTTP extraction
// path that reads Postgres, MySQL and SQLite sources
// through an embedded DuckDB connection, using DuckDB's own ATTACH/COPY
// machinery rather than a per-dialect driver for each one.
package dbextract

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/marcboeker/go-duckdb"
	_ "github.com/mattn/go-sqlite3"

	"github.com/flowbridge/connectkit/ops"
	"github.com/flowbridge/connectkit/template"
)

// Dialect selects which DuckDB extension attaches the source database.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// safetyCeiling bounds SyncToJSON's in-memory accumulation to a default of
// one million rows.
const safetyCeiling = 1_000_000

// ConnectionDef describes how to reach the source database, either as a
// single connection string or as discrete components.
type ConnectionDef struct {
	ConnectionString string
	Host             string
	Port             int
	Database         string
	User             string
	Password         string
}

// StreamDef describes one table or custom query to extract.
type StreamDef struct {
	Name        string
	Table       string
	Query       string
	CursorField string
	BatchSize   int
}

// SyncResult reports one sync_to_* call's outcome.
type SyncResult struct {
	Stream      string
	RecordCount int
	CursorValue string
	OutputPath  string
	Records     []map[string]interface{}
}

// Engine wraps an in-memory DuckDB connection with one external database
// ATTACHed as "source_db", read-only.
type Engine struct {
	db      *sql.DB
	dialect Dialect
	connStr string
	logger  ops.Logger
}

// New opens an in-memory DuckDB connection, installs and loads the
// extension for dialect, and ATTACHes the source database read-only.
func New(ctx context.Context, dialect Dialect, conn ConnectionDef, tctx *template.Context, logger ops.Logger) (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("opening duckdb connection: %w", err)
	}

	connStr, err := buildConnectionString(dialect, conn, tctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("building connection string: %w", err)
	}

	if err := nativePreflight(ctx, dialect, conn, tctx); err != nil {
		db.Close()
		return nil, err
	}

	var e = &Engine{db: db, dialect: dialect, connStr: connStr, logger: logger}
	if err := e.attach(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

// Close releases the underlying DuckDB connection.
func (e *Engine) Close() error {
	return e.db.Close()
}

func buildConnectionString(dialect Dialect, conn ConnectionDef, tctx *template.Context) (string, error) {
	if conn.ConnectionString != "" {
		return template.Render(conn.ConnectionString, tctx)
	}

	host, err := renderOr(conn.Host, "localhost", tctx)
	if err != nil {
		return "", err
	}
	user, err := renderOr(conn.User, "postgres", tctx)
	if err != nil {
		return "", err
	}
	password, err := renderOr(conn.Password, "", tctx)
	if err != nil {
		return "", err
	}
	database, err := renderOr(conn.Database, "postgres", tctx)
	if err != nil {
		return "", err
	}

	var port = conn.Port
	if port == 0 {
		switch dialect {
		case DialectPostgres:
			port = 5432
		case DialectMySQL:
			port = 3306
		}
	}

	switch dialect {
	case DialectPostgres:
		return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s", user, password, host, port, database), nil
	case DialectMySQL:
		return fmt.Sprintf("mysql://%s:%s@%s:%d/%s", user, password, host, port, database), nil
	case DialectSQLite:
		return database, nil
	default:
		return "", fmt.Errorf("unknown dialect %q", dialect)
	}
}

func renderOr(tmpl, fallback string, tctx *template.Context) (string, error) {
	if tmpl == "" {
		return fallback, nil
	}
	return template.Render(tmpl, tctx)
}

// nativePreflight dials the source with its own dialect-native driver and
// pings it before the heavier DuckDB extension load and ATTACH, so a bad
// host/credential fails fast with a driver-native error instead of a
// DuckDB ATTACH failure that buries the real cause. Skipped when the
// caller supplies a raw connection string, since its grammar may not
// match the native driver's own DSN format.
func nativePreflight(ctx context.Context, dialect Dialect, conn ConnectionDef, tctx *template.Context) error {
	if conn.ConnectionString != "" {
		return nil
	}

	host, err := renderOr(conn.Host, "localhost", tctx)
	if err != nil {
		return err
	}
	user, err := renderOr(conn.User, "postgres", tctx)
	if err != nil {
		return err
	}
	password, err := renderOr(conn.Password, "", tctx)
	if err != nil {
		return err
	}
	database, err := renderOr(conn.Database, "postgres", tctx)
	if err != nil {
		return err
	}

	var driverName, dsn string
	switch dialect {
	case DialectPostgres:
		var port = conn.Port
		if port == 0 {
			port = 5432
		}
		driverName = "postgres"
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", user, password, host, port, database)
	case DialectMySQL:
		var port = conn.Port
		if port == 0 {
			port = 3306
		}
		driverName = "mysql"
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", user, password, host, port, database)
	case DialectSQLite:
		driverName = "sqlite3"
		dsn = database
	default:
		return fmt.Errorf("unknown dialect %q", dialect)
	}

	var native, openErr = sql.Open(driverName, dsn)
	if openErr != nil {
		return fmt.Errorf("opening native %s connection: %w", dialect, openErr)
	}
	defer native.Close()

	var pingCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := native.PingContext(pingCtx); err != nil {
		return fmt.Errorf("native preflight ping to %s source failed: %w", dialect, err)
	}
	return nil
}

func (e *Engine) attach(ctx context.Context) error {
	switch e.dialect {
	case DialectPostgres:
		if err := e.exec(ctx, "INSTALL postgres; LOAD postgres;"); err != nil {
			return fmt.Errorf("loading postgres extension: %w", err)
		}
		if err := e.exec(ctx, fmt.Sprintf("ATTACH '%s' AS source_db (TYPE POSTGRES, READ_ONLY);", e.connStr)); err != nil {
			return fmt.Errorf("attaching postgres source: %w", err)
		}
	case DialectMySQL:
		if err := e.exec(ctx, "INSTALL mysql; LOAD mysql;"); err != nil {
			return fmt.Errorf("loading mysql extension: %w", err)
		}
		if err := e.exec(ctx, fmt.Sprintf("ATTACH '%s' AS source_db (TYPE MYSQL, READ_ONLY);", e.connStr)); err != nil {
			return fmt.Errorf("attaching mysql source: %w", err)
		}
	case DialectSQLite:
		if err := e.exec(ctx, "INSTALL sqlite; LOAD sqlite;"); err != nil {
			return fmt.Errorf("loading sqlite extension: %w", err)
		}
		if err := e.exec(ctx, fmt.Sprintf("ATTACH '%s' AS source_db (TYPE SQLITE, READ_ONLY);", e.connStr)); err != nil {
			return fmt.Errorf("attaching sqlite source: %w", err)
		}
	default:
		return fmt.Errorf("unknown dialect %q", e.dialect)
	}
	return nil
}

// ConfigureCloudStorage loads DuckDB's httpfs extension and wires cloud
// credentials from the environment: S3 credentials from AWS_ACCESS_KEY_ID,
// AWS_SECRET_ACCESS_KEY, AWS_DEFAULT_REGION and AWS_ENDPOINT, and a GCS
// credentials file from GOOGLE_SERVICE_ACCOUNT. It does not read the
// variables the blobstore sinks use for R2 (R2_ENDPOINT_URL), the S3
// region (AWS_REGION) or Azure (AZURE_STORAGE_CONNECTION_STRING).
func (e *Engine) ConfigureCloudStorage(ctx context.Context) error {
	if err := e.exec(ctx, "INSTALL httpfs; LOAD httpfs;"); err != nil {
		return fmt.Errorf("loading httpfs extension: %w", err)
	}

	if keyID := os.Getenv("AWS_ACCESS_KEY_ID"); keyID != "" {
		if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" {
			var region = os.Getenv("AWS_DEFAULT_REGION")
			if region == "" {
				region = "us-east-1"
			}
			var stmt = fmt.Sprintf("SET s3_access_key_id = '%s'; SET s3_secret_access_key = '%s'; SET s3_region = '%s';", keyID, secret, region)
			if err := e.exec(ctx, stmt); err != nil {
				return fmt.Errorf("configuring s3 credentials: %w", err)
			}

			if endpoint := os.Getenv("AWS_ENDPOINT"); endpoint != "" {
				var host = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
				var endpointStmt = fmt.Sprintf("SET s3_endpoint = '%s'; SET s3_url_style = 'path';", host)
				if err := e.exec(ctx, endpointStmt); err != nil {
					return fmt.Errorf("configuring s3 endpoint: %w", err)
				}
			}
		}
	}

	if sa := os.Getenv("GOOGLE_SERVICE_ACCOUNT"); sa != "" {
		if err := e.exec(ctx, fmt.Sprintf("SET gcs_credentials_file = '%s';", sa)); err != nil {
			return fmt.Errorf("configuring gcs credentials: %w", err)
		}
	}
	return nil
}

// CheckConnection probes source_db with a dialect-appropriate metadata
// query.
func (e *Engine) CheckConnection(ctx context.Context) error {
	var query string
	switch e.dialect {
	case DialectPostgres:
		query = "SELECT 1 FROM source_db.pg_catalog.pg_tables LIMIT 1"
	case DialectMySQL:
		query = "SELECT 1 FROM source_db.information_schema.tables LIMIT 1"
	case DialectSQLite:
		query = "SELECT 1 FROM source_db.sqlite_master LIMIT 1"
	}
	if _, err := e.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("connection check failed: %w", err)
	}
	return nil
}

// ListTables enumerates user tables, excluding each dialect's system
// schemas.
func (e *Engine) ListTables(ctx context.Context) ([]string, error) {
	var query string
	switch e.dialect {
	case DialectPostgres:
		query = `SELECT table_schema || '.' || table_name FROM source_db.information_schema.tables
		          WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		          ORDER BY table_schema, table_name`
	case DialectMySQL:
		query = `SELECT CONCAT(table_schema, '.', table_name) FROM source_db.information_schema.tables
		          WHERE table_schema NOT IN ('mysql', 'information_schema', 'performance_schema', 'sys')
		          ORDER BY table_schema, table_name`
	case DialectSQLite:
		query = `SELECT name FROM source_db.sqlite_master WHERE type='table' ORDER BY name`
	}

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// buildBaseQuery resolves a stream's underlying SELECT, prefixing a bare
// table name with source_db and, absent a schema qualifier, the default
// "public" schema (matching original_source's Postgres-oriented default
// even for MySQL/SQLite sources, since DuckDB tolerates the extra
// qualifier being wrong only when the table name itself is ambiguous).
func buildBaseQuery(stream StreamDef) (string, error) {
	if stream.Query != "" {
		return stream.Query, nil
	}
	if stream.Table != "" {
		var fullTable = "source_db.public." + stream.Table
		if strings.Contains(stream.Table, ".") {
			fullTable = "source_db." + stream.Table
		}
		return "SELECT * FROM " + fullTable, nil
	}
	return "", fmt.Errorf("stream %q must have either table or query defined", stream.Name)
}

// addCursorAndOrder appends a cursor WHERE/AND clause and an ORDER BY,
// detecting any existing clause the stream's custom query might already
// carry case-insensitively, matching original_source's query_upper scan.
func addCursorAndOrder(query string, stream StreamDef, cursorValue string) string {
	if stream.CursorField != "" && cursorValue != "" {
		var upper = strings.ToUpper(query)
		if strings.Contains(upper, " WHERE ") {
			query = fmt.Sprintf("%s AND %s > '%s'", query, stream.CursorField, cursorValue)
		} else {
			query = fmt.Sprintf("%s WHERE %s > '%s'", query, stream.CursorField, cursorValue)
		}
	}
	if stream.CursorField != "" {
		var upper = strings.ToUpper(query)
		if !strings.Contains(upper, " ORDER BY ") {
			query = fmt.Sprintf("%s ORDER BY %s ASC", query, stream.CursorField)
		}
	}
	return query
}

func buildQuery(stream StreamDef, cursorValue string) (string, error) {
	var base, err = buildBaseQuery(stream)
	if err != nil {
		return "", err
	}
	return addCursorAndOrder(base, stream, cursorValue), nil
}

func buildPaginatedQuery(stream StreamDef, cursorValue string, batchSize int) (string, error) {
	var query, err = buildQuery(stream, cursorValue)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s LIMIT %d", query, batchSize), nil
}

// SyncToParquet writes a stream's full (cursor-filtered) result set
// directly to a Parquet file at outputPath via DuckDB's COPY.
func (e *Engine) SyncToParquet(ctx context.Context, stream StreamDef, outputPath, cursorValue string) (SyncResult, error) {
	var query, err = buildQuery(stream, cursorValue)
	if err != nil {
		return SyncResult{}, err
	}
	var copySQL = fmt.Sprintf("COPY (%s) TO '%s' (FORMAT PARQUET, COMPRESSION 'SNAPPY');", query, outputPath)
	if err := e.exec(ctx, copySQL); err != nil {
		return SyncResult{}, fmt.Errorf("writing parquet for stream %q: %w", stream.Name, err)
	}

	count, newCursor, err := e.syncStats(ctx, stream, cursorValue)
	if err != nil {
		return SyncResult{}, err
	}
	return SyncResult{Stream: stream.Name, RecordCount: count, CursorValue: newCursor, OutputPath: outputPath}, nil
}

// SyncToJSONFile writes a stream's full (cursor-filtered) result set
// directly to a JSON file at outputPath via DuckDB's COPY.
func (e *Engine) SyncToJSONFile(ctx context.Context, stream StreamDef, outputPath, cursorValue string) (SyncResult, error) {
	var query, err = buildQuery(stream, cursorValue)
	if err != nil {
		return SyncResult{}, err
	}
	var copySQL = fmt.Sprintf("COPY (%s) TO '%s' (FORMAT JSON, ARRAY true);", query, outputPath)
	if err := e.exec(ctx, copySQL); err != nil {
		return SyncResult{}, fmt.Errorf("writing json for stream %q: %w", stream.Name, err)
	}

	count, newCursor, err := e.syncStats(ctx, stream, cursorValue)
	if err != nil {
		return SyncResult{}, err
	}
	return SyncResult{Stream: stream.Name, RecordCount: count, CursorValue: newCursor, OutputPath: outputPath}, nil
}

// SyncToJSON accumulates a stream's records in memory across
// cursor-paginated batches, up to the safety ceiling, advancing the
// cursor to the last row of each batch.
func (e *Engine) SyncToJSON(ctx context.Context, stream StreamDef, cursorValue string) (SyncResult, error) {
	var batchSize = stream.BatchSize
	if batchSize <= 0 {
		batchSize = 10_000
	}

	var all []map[string]interface{}
	var currentCursor = cursorValue
	var total int

	for {
		query, err := buildPaginatedQuery(stream, currentCursor, batchSize)
		if err != nil {
			return SyncResult{}, err
		}

		batch, err := e.queryRows(ctx, query)
		if err != nil {
			return SyncResult{}, fmt.Errorf("querying stream %q: %w", stream.Name, err)
		}

		total += len(batch)
		if stream.CursorField != "" && len(batch) > 0 {
			if v, ok := batch[len(batch)-1][stream.CursorField]; ok {
				currentCursor = fmt.Sprintf("%v", v)
			}
		}
		all = append(all, batch...)

		if len(batch) < batchSize {
			break
		}
		if total >= safetyCeiling {
			if e.logger != nil {
				e.logger.Warnf("reached %d record safety ceiling for stream %q", safetyCeiling, stream.Name)
			}
			break
		}
	}

	return SyncResult{Stream: stream.Name, RecordCount: total, CursorValue: currentCursor, Records: all}, nil
}

func (e *Engine) syncStats(ctx context.Context, stream StreamDef, cursorValue string) (int, string, error) {
	var query, err = buildQuery(stream, cursorValue)
	if err != nil {
		return 0, "", err
	}

	var count int
	var countSQL = fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS q", query)
	if err := e.db.QueryRowContext(ctx, countSQL).Scan(&count); err != nil {
		return 0, "", fmt.Errorf("counting rows for stream %q: %w", stream.Name, err)
	}

	if stream.CursorField == "" {
		return count, "", nil
	}

	var maxVal sql.NullString
	var maxSQL = fmt.Sprintf("SELECT MAX(%s) FROM (%s) AS q", stream.CursorField, query)
	if err := e.db.QueryRowContext(ctx, maxSQL).Scan(&maxVal); err != nil {
		return count, "", fmt.Errorf("computing max cursor for stream %q: %w", stream.Name, err)
	}
	if !maxVal.Valid {
		return count, "", nil
	}
	return count, maxVal.String, nil
}

func (e *Engine) exec(ctx context.Context, stmt string) error {
	_, err := e.db.ExecContext(ctx, stmt)
	return err
}

// queryRows runs query and decodes every row into a
// map[string]interface{} keyed by column name.
func (e *Engine) queryRows(ctx context.Context, query string) ([]map[string]interface{}, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]interface{}
	for rows.Next() {
		var values = make([]interface{}, len(cols))
		var pointers = make([]interface{}, len(cols))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		var rec = make(map[string]interface{}, len(cols))
		for i, col := range cols {
			rec[col] = normalizeScanned(values[i])
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// normalizeScanned converts database/sql's driver-returned values ([]byte
// for text types under most drivers) into plain Go values a JSON encoder
// or the columnar converter can consume directly.
func normalizeScanned(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		var s = string(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return s
	default:
		return v
	}
}
