package services

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/opsched/backend/internal/config"
)

// Dumper abstracts the external database dump/restore utility so the store
// and orchestrator can be tested without a running PostgreSQL.
type Dumper interface {
	Dump(ctx context.Context, destPath string) error
	Restore(ctx context.Context, srcPath string) error
}

// PgDumper shells out to pg_dump/psql with a bounded timeout.
type PgDumper struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	Timeout  time.Duration
}

// NewPgDumper builds a PgDumper from the database connection config.
func NewPgDumper(cfg *config.Config) *PgDumper {
	return &PgDumper{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Name:     cfg.DBName,
		Timeout:  cfg.DumpTimeout,
	}
}

// Dump writes a plain SQL dump to destPath. The subprocess is killed when
// the timeout expires.
func (d *PgDumper) Dump(ctx context.Context, destPath string) error {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "pg_dump",
		"-h", d.Host,
		"-p", strconv.Itoa(d.Port),
		"-U", d.User,
		"-d", d.Name,
		"-f", destPath,
		"--no-owner",
		"--no-acl",
	)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", d.Password))

	output, err := cmd.CombinedOutput()
	if err != nil {
		return &DumpError{Output: string(output), Err: err}
	}
	return nil
}

// Restore replays a SQL dump from srcPath via psql. The source file is left
// untouched regardless of the outcome.
func (d *PgDumper) Restore(ctx context.Context, srcPath string) error {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "psql",
		"-h", d.Host,
		"-p", strconv.Itoa(d.Port),
		"-U", d.User,
		"-d", d.Name,
		"-v", "ON_ERROR_STOP=1",
		"-f", srcPath,
	)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", d.Password))

	output, err := cmd.CombinedOutput()
	if err != nil {
		return &RestoreError{Output: string(output), Err: err}
	}
	return nil
}
