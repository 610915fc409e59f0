package schema

import (
	"bufio"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gorm.io/gorm"
)

// InitDBConfig SQL 初始化脚本配置
type InitDBConfig struct {
	Driver      string   // 数据库驱动: mysql, postgres, sqlite
	SQLFiles    []string // SQL 文件路径（按执行顺序）
	StopOnError bool     // 遇到错误是否停止
}

// InitDB 执行 SQL 初始化脚本，不存在的文件跳过
func InitDB(fs afero.Fs, db *gorm.DB, config InitDBConfig) error {
	for _, sqlFile := range config.SQLFiles {
		exists, err := afero.Exists(fs, sqlFile)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if err := executeSQLFile(fs, db, sqlFile, config.StopOnError); err != nil {
			return fmt.Errorf("执行 SQL 文件 %s 失败: %w", sqlFile, err)
		}
	}
	return nil
}

// SQLFileInitializer 把 InitDB 包装成连接池初始化函数
func SQLFileInitializer(fs afero.Fs, config InitDBConfig) func(ctx context.Context, tenantID string, db *gorm.DB) error {
	return func(ctx context.Context, _ string, db *gorm.DB) error {
		return InitDB(fs, db.WithContext(ctx), config)
	}
}

// splitStatements 按行尾分号切分语句，跳过注释和空行
func splitStatements(fs afero.Fs, filePath string) ([]string, error) {
	file, err := fs.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var statements []string
	var statement strings.Builder
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}

		statement.WriteString(line)
		statement.WriteString(" ")

		if strings.HasSuffix(line, ";") {
			sql := strings.TrimSpace(statement.String())
			if sql != "" && sql != ";" {
				statements = append(statements, sql)
			}
			statement.Reset()
		}
	}
	return statements, scanner.Err()
}

func executeSQLFile(fs afero.Fs, db *gorm.DB, filePath string, stopOnError bool) error {
	statements, err := splitStatements(fs, filePath)
	if err != nil {
		return err
	}
	for _, sql := range statements {
		if err := db.Exec(sql).Error; err != nil && stopOnError {
			return err
		}
	}
	return nil
}

// DefaultSQLFiles 根据数据库驱动返回默认 SQL 文件列表
func DefaultSQLFiles(driver, configDir string) []string {
	switch driver {
	case "mysql":
		return []string{
			filepath.Join(configDir, "db-begin-mysql.sql"),
			filepath.Join(configDir, "db.sql"),
			filepath.Join(configDir, "db-end-mysql.sql"),
		}
	case "postgres":
		return []string{
			filepath.Join(configDir, "db.sql"),
			filepath.Join(configDir, "pg.sql"),
		}
	default:
		return []string{
			filepath.Join(configDir, "db.sql"),
		}
	}
}
