// Package history は推定結果の履歴をSQLiteに保存する
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DBFile はデータディレクトリ内のデータベースファイル名
const DBFile = "plantai.db"

// Open はデータベースを開き、未適用のマイグレーションを実行する
func Open(ctx context.Context, dataDir string, logger *zap.Logger) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("データディレクトリの作成に失敗: %w", err)
	}
	return OpenPath(ctx, filepath.Join(dataDir, DBFile), logger)
}

// OpenPath は指定したパスのデータベースを開く
func OpenPath(ctx context.Context, dbPath string, logger *zap.Logger) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベースを開けません: %w", err)
	}
	// SQLiteの書き込みは1接続に絞る
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースに接続できません: %w", err)
	}

	if err := migrate(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("データベースを開きました", zap.String("path", dbPath))
	return db, nil
}

type migration struct {
	version int
	name    string
	sql     string
}

// migrate は未適用のマイグレーションを順に実行する
func migrate(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL DEFAULT (unixepoch())
		) STRICT
	`); err != nil {
		return fmt.Errorf("マイグレーション管理テーブルの作成に失敗: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("適用済みマイグレーションの取得に失敗: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	available, err := loadMigrations()
	if err != nil {
		return err
	}

	for _, m := range available {
		if applied[m.version] {
			continue
		}
		if err := runMigration(ctx, db, m); err != nil {
			return fmt.Errorf("マイグレーション %d (%s) に失敗: %w", m.version, m.name, err)
		}
		logger.Info("マイグレーションを適用しました", zap.Int("version", m.version), zap.String("name", m.name))
	}
	return nil
}

// loadMigrations は埋め込んだSQLファイルをバージョン順に読み込む
// ファイル名は 001_name.sql の形式
func loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("マイグレーションの読み込みに失敗: %w", err)
	}

	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(e.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, path.Join("migrations", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("マイグレーション %s の読み込みに失敗: %w", e.Name(), err)
		}
		out = append(out, migration{
			version: version,
			name:    strings.TrimSuffix(parts[1], ".sql"),
			sql:     string(content),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func runMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO schema_migrations (version, name) VALUES (?, ?)",
		m.version, m.name,
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
