// Command devtoken prints an HS256 bearer token signed with the configured
// JwtSettings.Secret, for calling protected routes locally.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/guilhermeportfolio/portfolio-backend/internal/auth/jwt"
	"github.com/guilhermeportfolio/portfolio-backend/internal/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("devtoken", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the config file")
	subject := fs.String("sub", "dev-user", "token subject")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	email := fs.String("email", "", "email claim")
	name := fs.String("name", "", "name claim")
	roles := fs.String("roles", "", "comma-separated roles claim")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ttl <= 0 {
		return fmt.Errorf("-ttl must be positive")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	manager, err := jwt.NewManager(cfg.JwtSettings.Secret)
	if err != nil {
		return err
	}

	var roleList []string
	for _, r := range strings.Split(*roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roleList = append(roleList, r)
		}
	}

	token, err := manager.Sign(*subject, *ttl, *email, *name, roleList)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(stdout, token)
	return err
}
