package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/duckask/duckask/internal/dataset"
	"github.com/duckask/duckask/internal/observability"
)

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres db: %w", err)
	}

	return db, nil
}

// Source materializes the result of a read-only query as a dataset.
type Source struct {
	db *sql.DB
}

func NewSource(db *sql.DB) (*Source, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &Source{db: db}, nil
}

func (s *Source) Load(ctx context.Context, name, query string) (*dataset.Dataset, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("run source query: %w", err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("read column types: %w", err)
	}
	columns := make([]dataset.Column, len(types))
	for i, ct := range types {
		columns[i] = dataset.Column{Name: ct.Name(), Type: columnType(ct.DatabaseTypeName())}
	}

	var records [][]any
	for rows.Next() {
		raw := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		record := make([]any, len(columns))
		for i, value := range raw {
			cell, err := convert(columns[i].Type, value)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", columns[i].Name, err)
			}
			record[i] = cell
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source rows: %w", err)
	}

	if strings.TrimSpace(name) == "" {
		name = "postgres"
	}
	ds, err := dataset.New(name, columns, records)
	if err != nil {
		return nil, err
	}
	observability.ObserveDatasetLoaded("postgres")
	return ds, nil
}

func columnType(databaseType string) dataset.ColumnType {
	switch strings.ToUpper(databaseType) {
	case "INT2", "INT4", "INT8":
		return dataset.TypeInteger
	case "FLOAT4", "FLOAT8", "NUMERIC":
		return dataset.TypeFloat
	case "BOOL":
		return dataset.TypeBoolean
	case "DATE", "TIMESTAMP", "TIMESTAMPTZ":
		return dataset.TypeDatetime
	default:
		return dataset.TypeString
	}
}

func convert(t dataset.ColumnType, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	switch t {
	case dataset.TypeInteger:
		switch v := value.(type) {
		case int64:
			return v, nil
		case int32:
			return int64(v), nil
		case string:
			return strconv.ParseInt(v, 10, 64)
		}
	case dataset.TypeFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			return strconv.ParseFloat(v, 64)
		}
	case dataset.TypeBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(v)
		}
	case dataset.TypeDatetime:
		if v, ok := value.(time.Time); ok {
			return v, nil
		}
	case dataset.TypeString:
		if v, ok := value.(string); ok {
			return v, nil
		}
		return dataset.FormatValue(value), nil
	}
	return nil, fmt.Errorf("unexpected value %v (%T) for %s column", value, value, t)
}
