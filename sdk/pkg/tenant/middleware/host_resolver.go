package middleware

import (
	"strings"
	"sync"
)

// HostResolver 主机名到租户ID的映射，读多写少
type HostResolver struct {
	hosts sync.Map
}

// NewHostResolver 创建一个空的映射
func NewHostResolver() *HostResolver {
	return &HostResolver{}
}

// stripPort 去除端口号并转小写
func stripPort(host string) string {
	if idx := strings.LastIndexByte(host, ':'); idx != -1 && !strings.Contains(host[idx:], "]") {
		host = host[:idx]
	}
	return strings.ToLower(host)
}

// Set 添加或更新映射
func (r *HostResolver) Set(host, tenantID string) {
	r.hosts.Store(stripPort(host), tenantID)
}

// Delete 删除映射
func (r *HostResolver) Delete(host string) {
	r.hosts.Delete(stripPort(host))
}

// Lookup 通过主机名获取租户ID
func (r *HostResolver) Lookup(host string) (string, bool) {
	val, ok := r.hosts.Load(stripPort(host))
	if !ok {
		return "", false
	}
	tenantID, ok := val.(string)
	return tenantID, ok
}

// Load 批量加载映射
func (r *HostResolver) Load(mappings map[string]string) {
	for host, tenantID := range mappings {
		r.Set(host, tenantID)
	}
}
