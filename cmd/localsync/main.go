package main

import (
	"os"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arborapp/localsync/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
