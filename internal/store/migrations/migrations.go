// Package migrations 管理對戰伺服器的 PostgreSQL schema
//
// 遷移檔以 embed 打包進執行檔。所有 up 遷移都寫成可重複執行
// （IF NOT EXISTS），因此中斷留下的 dirty 狀態可以安全地退回前一版重跑。
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed all:migrations
var migrationsFS embed.FS

// nilVersion 讓 Force 清空版本紀錄
const nilVersion = -1

// Migrator 套用對戰 schema 遷移
type Migrator struct {
	migrate *migrate.Migrate
	source  source.Driver
	logger  *slog.Logger
}

// migrateLogger 把 golang-migrate 的輸出轉接到 slog
type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool { return false }

// New 建立遷移器，databaseURL 必須是 postgres:// 形式
func New(databaseURL string, logger *slog.Logger) (*Migrator, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded duel schema: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect duel schema migrator: %w", err)
	}

	logger = logger.With("component", "schema")
	m.Log = migrateLogger{logger: logger}

	return &Migrator{
		migrate: m,
		source:  src,
		logger:  logger,
	}, nil
}

// Apply 套用所有遷移後關閉遷移器，供啟動流程使用
func Apply(databaseURL string, logger *slog.Logger) error {
	m, err := New(databaseURL, logger)
	if err != nil {
		return err
	}
	upErr := m.Up()
	if err := m.Close(); err != nil {
		m.logger.Warn("關閉遷移器失敗", "error", err)
	}
	return upErr
}

// Up 將 schema 升到最新版本
//
// 若前一次遷移中斷（dirty），先退回前一個版本再重跑該版本。
func (m *Migrator) Up() error {
	if err := m.recoverDirty(); err != nil {
		return err
	}

	before, _ := m.current()
	if err := m.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("對戰 schema 已是最新", "version", before)
			return nil
		}
		return fmt.Errorf("upgrade duel schema from version %d: %w", before, err)
	}

	after, _ := m.current()
	m.logger.Info("對戰 schema 已升級", "from", before, "to", after)
	return nil
}

// recoverDirty 將中斷的版本標回前一版
func (m *Migrator) recoverDirty() error {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read duel schema version: %w", err)
	}
	if !dirty {
		return nil
	}

	target := nilVersion
	prev, err := m.source.Prev(version)
	switch {
	case err == nil:
		target = int(prev)
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("find version before %d: %w", version, err)
	}

	m.logger.Warn("對戰 schema 遷移曾中斷，退回前一版重跑",
		"dirty_version", version,
		"rollback_to", target,
	)
	if err := m.migrate.Force(target); err != nil {
		return fmt.Errorf("reset dirty duel schema version %d: %w", version, err)
	}
	return nil
}

// Down 移除所有對戰資料表
func (m *Migrator) Down() error {
	if err := m.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("drop duel schema: %w", err)
	}
	m.logger.Info("對戰 schema 已移除")
	return nil
}

// Version 回傳目前版本與是否 dirty，尚未遷移時版本為 0
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (m *Migrator) current() (uint, bool) {
	version, dirty, _ := m.Version()
	return version, dirty
}

// Close 釋放來源與資料庫連線
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}
