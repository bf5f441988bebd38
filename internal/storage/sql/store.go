package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL/MariaDB driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"go.uber.org/zap"
	gormmysql "gorm.io/driver/mysql"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailadmin/backend/internal/config"
	"mailadmin/backend/internal/domain"
)

// Store SQL 数据库存储实现（支持 MariaDB/MySQL 5.7+ 和 PostgreSQL）
//
// 平台自有表（套餐、绑定、审计、管理员）由 GORM AutoMigrate 维护；
// domains/users/aliases 属于邮件系统，由 cmd/migrate 或邮件系统自身建表。
type Store struct {
	db         *sql.DB
	gormDB     *gorm.DB // GORM实例，仅用于迁移
	driverName string   // "mysql" or "postgres"
	log        *zap.Logger
	now        func() time.Time
}

// NewStore 创建SQL数据库存储
func NewStore(cfg config.DatabaseConfig, log *zap.Logger) (*Store, error) {
	driverName := cfg.Type
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var dialector gorm.Dialector
	if driverName == "mysql" {
		dialector = gormmysql.New(gormmysql.Config{Conn: db})
	} else {
		dialector = gormpostgres.New(gormpostgres.Config{Conn: db})
	}
	gormDB, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	store := newStore(db, driverName, log)
	store.gormDB = gormDB

	if cfg.AutoMigrate {
		if err := store.migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return store, nil
}

func newStore(db *sql.DB, driverName string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		db:         db,
		driverName: driverName,
		log:        log,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.PingContext(ctx)
}

// migrate 迁移平台自有表
func (s *Store) migrate() error {
	if s.gormDB == nil {
		return nil
	}

	if err := s.gormDB.AutoMigrate(
		&domain.Plan{},
		&domain.Allocation{},
		&domain.AuditEntry{},
		&domain.AdminUser{},
	); err != nil {
		return err
	}

	// PostgreSQL 的唯一约束区分大小写，套餐名称需要额外的 LOWER(name) 唯一索引
	if s.driverName == "postgres" {
		if err := s.gormDB.Exec(planNameLowerIndex).Error; err != nil {
			return fmt.Errorf("create plan name index: %w", err)
		}
	}
	return nil
}

// rebind 把 ? 占位符转换为当前数据库的写法（PostgreSQL 使用 $n）
func (s *Store) rebind(query string) string {
	if s.driverName != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// withTx 在事务中执行 fn，fn 返回错误时回滚
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// rowScanner 兼容 *sql.Row 和 *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}
