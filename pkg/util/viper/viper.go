package viper

import (
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	spfviper "github.com/spf13/viper"
)

// Config 封装 spf13/viper，提供按段解码与重新加载配置文件的能力。
//
// 说明：
//   - 文件类型通过扩展名（.yaml/.yml/.json）推断；
//   - Reload 与 UnmarshalKey 可以并发调用。
type Config struct {
	mu   sync.RWMutex
	path string
	v    *spfviper.Viper
}

// Load 读取 path 指向的配置文件。
func Load(path string) (*Config, error) {
	c := &Config{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path 返回配置文件路径。
func (c *Config) Path() string {
	return c.path
}

// Reload 重新读取配置文件。读取失败时保留上一次成功加载的内容。
func (c *Config) Reload() error {
	v := spfviper.New()
	v.SetConfigFile(c.path)
	switch filepath.Ext(c.path) {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	case ".json":
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "read config %q", c.path)
	}

	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
	return nil
}

// IsSet 判断配置文件中是否出现了 key（支持 "relay.addr" 形式的嵌套路径）。
func (c *Config) IsSet(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.IsSet(key)
}

// UnmarshalKey 将 key 对应的段解码到 dst，文件中未出现的字段保持 dst 原值。
// 时长字段支持 "250ms"、"5m" 这样的写法。
func (c *Config) UnmarshalKey(key string, dst any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.v.IsSet(key) {
		return nil
	}
	return c.v.UnmarshalKey(key, dst)
}
