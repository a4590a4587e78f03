package models

import (
	"log"

	"github.com/mmdatafocus/wotrack_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Order{},
		&AuditLogEntry{},
		&Comment{},
		&ProcessDefinitionRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
