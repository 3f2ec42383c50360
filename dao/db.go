package dao

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"k8s.io/klog/v2"

	"github.com/nimbus-lab/nimbus/dao/model"
	"github.com/nimbus-lab/nimbus/pkg/config"
)

var (
	once     sync.Once
	instance *gorm.DB
)

// GetDB returns the singleton instance of the database connection.
func GetDB() *gorm.DB {
	once.Do(func() {
		dbConfig := config.GetConfig()

		host := dbConfig.Postgres.Host
		port := dbConfig.Postgres.Port
		dbName := dbConfig.Postgres.DBName
		user := dbConfig.Postgres.User
		password := dbConfig.Postgres.Password
		sslMode := dbConfig.Postgres.SSLMode
		timeZone := dbConfig.Postgres.TimeZone

		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
			host, user, password, dbName, port, sslMode, timeZone)
		var err error
		instance, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			panic(err)
		}
		maxIdleConns := 5
		maxOpenConns := 10
		sqlDB, err := instance.DB()
		if err != nil {
			panic(err)
		}
		sqlDB.SetMaxIdleConns(maxIdleConns)
		sqlDB.SetMaxOpenConns(maxOpenConns)
		sqlDB.SetConnMaxLifetime(time.Hour)

		klog.Info("Postgres init success!")
	})
	return instance
}

// Migrate applies the schema migrations. Safe to run on every startup.
func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "202608210001",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&model.Registration{},
					&model.RegistrationRequest{},
					&model.IdentityMapping{},
					&model.Project{},
					&model.ProjectRequest{},
					&model.Expiration{},
					&model.User{},
					&model.UserProject{},
				)
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(
					&model.UserProject{},
					&model.User{},
					&model.Expiration{},
					&model.ProjectRequest{},
					&model.Project{},
					&model.IdentityMapping{},
					&model.RegistrationRequest{},
					&model.Registration{},
				)
			},
		},
	})
	return m.Migrate()
}
