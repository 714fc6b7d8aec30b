package config

import (
	"errors"
	"io/fs"
	"log"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoadEnv 读取 .env (不存在则忽略)，已存在的环境变量不会被覆盖
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// EnvPrefix custody-service -> CUSTODY_SERVICE
func EnvPrefix(service string) string {
	return strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
}

// Load 只加载一次，命令行工具用
func Load(service string, out interface{}) (*viper.Viper, error) {
	if err := LoadEnv(); err != nil {
		log.Printf("[%s] load .env error: %v", service, err)
	}

	v := viper.New()
	// 约定：config/{service}.yaml
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".") // 兜底，直接放当前目录也行

	// 环境变量覆盖，例如：
	//   CUSTODY_SERVICE_HTTP_ADDR 覆盖 http.addr
	//   CUSTODY_SERVICE_MYSQL_DSN 覆盖 mysql.dsn
	v.SetEnvPrefix(EnvPrefix(service))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	log.Printf("[%s] config loaded from %s", service, v.ConfigFileUsed())
	return v, nil
}

// LoadAndWatch 加载 config/{service}.yaml，并监听变更热更新到 out。
// onChange 在每次成功重新加载后调用，可为 nil。
func LoadAndWatch(service string, out interface{}, onChange func()) (*viper.Viper, error) {
	v, err := Load(service, out)
	if err != nil {
		return nil, err
	}

	// 监听文件变更，热更新到 out
	var mu sync.Mutex
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()
		log.Printf("[%s] config file changed: %s", service, e.Name)

		if err := v.Unmarshal(out); err != nil {
			log.Printf("[%s] reload config error: %v", service, err)
			return
		}
		log.Printf("[%s] config reloaded OK", service)
		if onChange != nil {
			onChange()
		}
	})

	return v, nil
}
