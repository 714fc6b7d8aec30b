package asset

import (
	"context"

	"gorm.io/gorm"
)

// DBLoader 从 chain_configs 表加载
func DBLoader(db *gorm.DB) Loader {
	return func(ctx context.Context) ([]ChainConfig, error) {
		var rows []ChainConfig
		err := db.WithContext(ctx).Order("id ASC").Find(&rows).Error
		return rows, err
	}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ChainConfig{})
}
