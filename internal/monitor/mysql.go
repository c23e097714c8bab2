package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLConfig locates the checkpoint database.
type MySQLConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Addr     string `yaml:"addr"` // host:port
	DBName   string `yaml:"db_name"`
	Table    string `yaml:"table"`
}

// DSN renders the driver connection string.
func (c MySQLConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = c.Addr
	cfg.DBName = c.DBName
	cfg.ParseTime = true
	cfg.Timeout = 5 * time.Second
	return cfg.FormatDSN()
}

func (c MySQLConfig) table() string {
	if c.Table == "" {
		return "he_checkpoints"
	}
	return c.Table
}

// MySQLSink stores checkpoints in a MySQL table, one row per checkpoint, tagged with
// a run identifier.
type MySQLSink struct {
	db    *sql.DB
	table string
	run   string
}

// OpenMySQL connects, verifies the connection and creates the table if needed.
func OpenMySQL(ctx context.Context, cfg MySQLConfig, run string) (*MySQLSink, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql at %s: %w", cfg.Addr, err)
	}
	s := NewMySQLSink(db, cfg.table(), run)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewMySQLSink wraps an existing handle.
func NewMySQLSink(db *sql.DB, table, run string) *MySQLSink {
	return &MySQLSink{db: db, table: table, run: run}
}

func (s *MySQLSink) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	run VARCHAR(64) NOT NULL,
	label VARCHAR(128) NOT NULL,
	recorded_at DATETIME(6) NOT NULL,
	elapsed_us BIGINT NOT NULL,
	phase_us BIGINT NOT NULL,
	heap_alloc BIGINT UNSIGNED NOT NULL,
	heap_peak BIGINT UNSIGNED NOT NULL,
	heap_delta BIGINT NOT NULL,
	num_gc INT UNSIGNED NOT NULL,
	INDEX (run)
)`, s.table))
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

func (s *MySQLSink) Record(ctx context.Context, c Checkpoint) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (run, label, recorded_at, elapsed_us, phase_us, heap_alloc, heap_peak, heap_delta, num_gc) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table),
		s.run, c.Label, c.At.UTC(), c.Elapsed.Microseconds(), c.Phase.Microseconds(),
		c.HeapAlloc, c.HeapPeak, c.HeapDelta, c.NumGC)
	if err != nil {
		return fmt.Errorf("insert checkpoint %q: %w", c.Label, err)
	}
	return nil
}

func (s *MySQLSink) Close() error { return s.db.Close() }
