package sql

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

const (
	mysqlDuplicateEntry   = 1062
	mysqlRowReferenced    = 1451
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// isUniqueViolation 判断是否为唯一约束冲突
func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}

// isForeignKeyViolation 判断是否为外键约束冲突（套餐仍被引用）
func isForeignKeyViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlRowReferenced
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqForeignKeyViolation
	}
	return false
}

// notFound 把 sql.ErrNoRows 映射为业务错误
func notFound(err, target error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return target
	}
	return err
}
