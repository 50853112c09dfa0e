package db

import (
	"fmt"
	"log"

	"github.com/Divi1545/authority13/internal/config"
	"github.com/Divi1545/authority13/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *gorm.DB

func InitDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.DBName,
		cfg.Database.Charset,
	)

	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := Migrate(DB); err != nil {
		return err
	}

	log.Println("数据库初始化成功")
	return nil
}

// Migrate 自动迁移；单测用sqlite内存库时也走这里
func Migrate(g *gorm.DB) error {
	if err := g.AutoMigrate(
		&model.Task{},
		&model.TaskPlan{},
		&model.Run{},
		&model.RunStep{},
		&model.ApprovalRequest{},
		&model.AuditEvent{},
		&model.APIKeySecret{},
	); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	return nil
}
