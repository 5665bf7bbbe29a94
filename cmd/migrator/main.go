package main

import (
	"flag"
	"fmt"

	"blog/internal/storage/sqlite"
)

func main() {
	var storagePath, migrationsPath, migrationsTable string

	flag.StringVar(&storagePath, "storage-path", "", "path to storage")
	flag.StringVar(&migrationsPath, "migrations-path", "", "path to migrations, embedded set when empty")
	flag.StringVar(&migrationsTable, "migrations-table", sqlite.DefaultMigrationsTable, "name of migrations table")
	flag.Parse()

	if storagePath == "" {
		panic("storage-path is required")
	}

	var err error
	if migrationsPath == "" {
		err = sqlite.Migrate(storagePath, migrationsTable)
	} else {
		err = sqlite.MigrateFrom(migrationsPath, storagePath, migrationsTable)
	}
	if err != nil {
		panic(err)
	}

	fmt.Println("migrations applied")
}
