package db

import (
	"fmt"

	"github.com/axobase001/axobase/db/models"
	"gorm.io/gorm"
)

func AutoMigrate(gdb *gorm.DB) error {
	if gdb == nil {
		return fmt.Errorf("nil gorm db")
	}
	return gdb.AutoMigrate(
		&models.Soul{},
		&models.Deployment{},
		&models.EventLog{},
		&models.ChainCursor{},
	)
}
