// Package tenant 多租户隔离的基础类型：租户标识、租户记录、查询作用域和错误定义。
package tenant

import (
	"fmt"
	"regexp"
)

// DefaultMaxIDLength 租户ID默认最大长度
const DefaultMaxIDLength = 50

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID 校验租户ID：非空、仅字母数字下划线和短横线、不超过 maxLen（<=0 时取默认值）
func ValidateID(id string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxIDLength
	}
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidTenantID)
	case len(id) > maxLen:
		return fmt.Errorf("%w: %q longer than %d", ErrInvalidTenantID, id, maxLen)
	case !idPattern.MatchString(id):
		return fmt.Errorf("%w: %q", ErrInvalidTenantID, id)
	}
	return nil
}
