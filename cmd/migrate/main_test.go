package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailadmin/backend/migrations"
)

func TestSplitStatements(t *testing.T) {
	t.Run("跳过注释行", func(t *testing.T) {
		script := "-- header\nCREATE TABLE a (id INT);\n-- second\nCREATE TABLE b (id INT);\n"
		stmts := splitStatements(script)
		require.Len(t, stmts, 2)
		assert.Equal(t, "CREATE TABLE a (id INT)", stmts[0])
		assert.Equal(t, "CREATE TABLE b (id INT)", stmts[1])
	})

	t.Run("引号内的分号", func(t *testing.T) {
		stmts := splitStatements("INSERT INTO t VALUES ('a;b');SELECT 1")
		require.Len(t, stmts, 2)
		assert.Equal(t, "INSERT INTO t VALUES ('a;b')", stmts[0])
		assert.Equal(t, "SELECT 1", stmts[1])
	})
}

func TestEmbeddedMigrations(t *testing.T) {
	tables := []string{"domains", "users", "aliases", "mail_plans", "domain_allocations", "admin_logs", "admin_users"}

	for _, driver := range []string{"mysql", "postgres"} {
		t.Run(driver, func(t *testing.T) {
			up, _, err := migrations.Read(driver, schemaVersion, "up")
			require.NoError(t, err)
			down, _, err := migrations.Read(driver, schemaVersion, "down")
			require.NoError(t, err)

			upStmts := strings.Join(splitStatements(string(up)), "\n")
			for _, table := range tables {
				assert.Contains(t, upStmts, "CREATE TABLE IF NOT EXISTS "+table+" (")
				assert.Contains(t, string(down), "DROP TABLE IF EXISTS "+table+";")
			}
		})
	}

	_, _, err := migrations.Read("sqlite", schemaVersion, "up")
	assert.Error(t, err)

	t.Run("PostgreSQL 套餐名称唯一索引不区分大小写", func(t *testing.T) {
		up, _, err := migrations.Read("postgres", schemaVersion, "up")
		require.NoError(t, err)
		stmts := splitStatements(string(up))
		assert.Contains(t, stmts, "CREATE UNIQUE INDEX IF NOT EXISTS uk_mail_plans_name_lower ON mail_plans (LOWER(name))")
		for _, stmt := range stmts {
			if strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS mail_plans") {
				assert.NotContains(t, stmt, "UNIQUE")
			}
		}
	})
}
