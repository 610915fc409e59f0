package migration

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"gorm.io/gorm"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/json"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
)

// DataAccessor 读写租户数据，迁移引擎不关心底层存储
type DataAccessor interface {
	// Tables 租户可迁移的表
	Tables(ctx context.Context, tenantID string) ([]string, error)
	// Fetch 读取租户在 table 中的全部行
	Fetch(ctx context.Context, tenantID, table string) ([]Row, error)
	// Insert 把一批行写入 tenantID，租户列改写为 tenantID
	Insert(ctx context.Context, tenantID, table string, rows []Row) error
	// Delete 删除租户在 table 中的全部行
	Delete(ctx context.Context, tenantID, table string) (int64, error)
}

// SessionRunner 借出租户连接执行 fn，*database.Manager 实现了它
type SessionRunner interface {
	WithSession(ctx context.Context, tenantID string, fn func(db *gorm.DB) error) error
}

// GormAccessor 通过租户连接池访问数据，每次调用借出一条会话连接
type GormAccessor struct {
	sessions SessionRunner
	column   string
	tables   []string
}

// NewGormAccessor column 为租户列；tables 非空时 Tables 直接返回它，否则从数据库读取含租户列的表
func NewGormAccessor(sessions SessionRunner, column string, tables ...string) *GormAccessor {
	if column == "" {
		column = "tenant_id"
	}
	return &GormAccessor{sessions: sessions, column: column, tables: tables}
}

func (a *GormAccessor) Tables(ctx context.Context, tenantID string) ([]string, error) {
	if len(a.tables) > 0 {
		return append([]string{}, a.tables...), nil
	}

	// 读取元数据表不带租户条件
	ctx = tenant.Suspend(tenant.WithScope(ctx, tenantID))

	var out []string
	err := a.sessions.WithSession(ctx, tenantID, func(db *gorm.DB) error {
		names, err := db.Migrator().GetTables()
		if err != nil {
			return err
		}
		for _, name := range names {
			if db.Migrator().HasColumn(name, a.column) {
				out = append(out, name)
			}
		}
		return nil
	})
	return out, err
}

func (a *GormAccessor) Fetch(ctx context.Context, tenantID, table string) ([]Row, error) {
	var rows []Row
	err := a.sessions.WithSession(tenant.WithScope(ctx, tenantID), tenantID, func(db *gorm.DB) error {
		return db.Table(table).Where(fmt.Sprintf("%s = ?", db.Statement.Quote(a.column)), tenantID).Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", table, err)
	}
	for _, row := range rows {
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = cast.ToString(b)
			}
		}
	}
	return rows, nil
}

func (a *GormAccessor) Insert(ctx context.Context, tenantID, table string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		v := make(map[string]interface{}, len(row)+1)
		for k, val := range row {
			v[k] = normalize(val)
		}
		v[a.column] = tenantID
		values = append(values, v)
	}
	err := a.sessions.WithSession(tenant.WithScope(ctx, tenantID), tenantID, func(db *gorm.DB) error {
		return db.Table(table).Create(&values).Error
	})
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (a *GormAccessor) Delete(ctx context.Context, tenantID, table string) (int64, error) {
	var affected int64
	err := a.sessions.WithSession(tenant.WithScope(ctx, tenantID), tenantID, func(db *gorm.DB) error {
		res := db.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
			db.Statement.Quote(table), db.Statement.Quote(a.column)), tenantID)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	return affected, nil
}

// normalize 导出文件中的数字读回为 json.Number，按整数或浮点写回
func normalize(v interface{}) interface{} {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	s := n.String()
	if strings.ContainsAny(s, ".eE") {
		return cast.ToFloat64(s)
	}
	if i, err := cast.ToInt64E(s); err == nil {
		return i
	}
	return s
}
