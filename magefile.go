//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Variables
const (
	binaryDir  = "bin"
	modulePath = "github.com/guilhermeportfolio/portfolio-backend"
	goFlags    = "-v"
)

// Default target when running mage without arguments.
var Default = Build

func ldFlags() string {
	version := os.Getenv("VERSION")
	if version == "" {
		version = "dev"
	}
	return fmt.Sprintf("-s -w -X main.version=%s", version)
}

// ============================================================================
// Build targets
// ============================================================================

// Build builds the server and the developer token tool.
func Build() {
	mg.Deps(BuildServer, BuildDevToken)
}

// BuildServer builds the API server.
func BuildServer() error {
	return buildCmd("portfolio")
}

// BuildDevToken builds the developer token tool.
func BuildDevToken() error {
	return buildCmd("devtoken")
}

func buildCmd(name string) error {
	fmt.Printf("Building %s...\n", name)
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.Run("go", "build", goFlags, "-ldflags", ldFlags(),
		"-o", filepath.Join(binaryDir, name), "./cmd/"+name)
}

// ============================================================================
// Development targets
// ============================================================================

// Run runs the API server locally (CONFIG selects the config file).
func Run() error {
	args := []string{"run", "./cmd/portfolio"}
	if cfg := os.Getenv("CONFIG"); cfg != "" {
		args = append(args, "-config", cfg)
	}
	return sh.RunV("go", args...)
}

// DevToken prints a bearer token for local requests (SUB and TTL override
// the defaults).
func DevToken() error {
	args := []string{"run", "./cmd/devtoken"}
	if sub := os.Getenv("SUB"); sub != "" {
		args = append(args, "-sub", sub)
	}
	if ttl := os.Getenv("TTL"); ttl != "" {
		args = append(args, "-ttl", ttl)
	}
	if cfg := os.Getenv("CONFIG"); cfg != "" {
		args = append(args, "-config", cfg)
	}
	return sh.RunV("go", args...)
}

// ============================================================================
// Testing
// ============================================================================

// Test runs all tests.
func Test() error {
	return sh.RunV("go", "test", "-race", "-cover", "./...")
}

// TestShort runs tests in short mode.
func TestShort() error {
	return sh.RunV("go", "test", "-race", "-short", "./...")
}

// TestCoverage generates a test coverage report.
func TestCoverage() error {
	if err := sh.Run("go", "test", "-race", "-coverprofile=coverage.out", "./..."); err != nil {
		return err
	}
	if err := sh.Run("go", "tool", "cover", "-html=coverage.out", "-o", "coverage.html"); err != nil {
		return err
	}
	fmt.Println("Coverage report generated: coverage.html")
	return nil
}

// ============================================================================
// Code quality
// ============================================================================

// Lint runs the linter.
func Lint() error {
	return sh.RunV("golangci-lint", "run", "./...")
}

// Fmt formats code.
func Fmt() error {
	if err := sh.Run("go", "fmt", "./..."); err != nil {
		return err
	}
	return sh.Run("gofumpt", "-l", "-w", ".")
}

// Vet runs go vet.
func Vet() error {
	return sh.Run("go", "vet", "./...")
}

// Tidy tidies and verifies go modules.
func Tidy() error {
	if err := sh.Run("go", "mod", "tidy"); err != nil {
		return err
	}
	return sh.Run("go", "mod", "verify")
}

// SecurityScan runs the security scanner.
func SecurityScan() error {
	return sh.Run("gosec", "./...")
}

// Check runs vet, lint and tests.
func Check() {
	mg.SerialDeps(Vet, Lint, Test)
}

// ============================================================================
// Cleanup
// ============================================================================

// Clean cleans build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	_ = os.Remove("coverage.out")
	_ = os.Remove("coverage.html")
	return sh.Run("go", "clean", "-cache")
}

// ============================================================================
// Installation
// ============================================================================

// InstallTools installs development tools.
func InstallTools() error {
	fmt.Println("Installing development tools...")
	for _, module := range []string{
		"github.com/golangci/golangci-lint/cmd/golangci-lint@latest",
		"mvdan.cc/gofumpt@latest",
		"github.com/securego/gosec/v2/cmd/gosec@latest",
	} {
		if err := sh.Run("go", "install", module); err != nil {
			return err
		}
	}
	return nil
}

// Deps downloads dependencies.
func Deps() error {
	return sh.Run("go", "mod", "download")
}

// Info prints the module path.
func Info() {
	fmt.Println(modulePath)
}
