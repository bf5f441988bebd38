// Package migrations 内置各数据库的建表脚本
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed mysql/*.sql postgres/*.sql
var files embed.FS

// Read 读取指定数据库和方向（up/down）的迁移脚本
func Read(driver, version, direction string) ([]byte, string, error) {
	name := fmt.Sprintf("%s/%s.%s.sql", driver, version, direction)
	content, err := fs.ReadFile(files, name)
	if err != nil {
		return nil, name, fmt.Errorf("migration %s not found: %w", name, err)
	}
	return content, name, nil
}
