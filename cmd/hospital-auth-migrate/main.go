// hospital-auth-migrate applies the embedded account schema migrations.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/MrEthical07/hospitalauth/account"
	"github.com/MrEthical07/hospitalauth/internal/config"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	dsn := config.DatabaseURL()
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; create a .env or export DATABASE_URL")
		os.Exit(1)
	}

	if err := account.Migrate(dsn, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
