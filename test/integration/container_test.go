package integration

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/ehr/eligibility/internal/platform/db"
)

const (
	postgresImage   = "postgres:16-alpine"
	postgresDB      = "eligibility"
	postgresUser    = "eligibility"
	postgresPass    = "eligibility"
	containerLabel  = "eligibility.integration=true"
	postgresStartup = 30 * time.Second
)

// postgresContainer is a throwaway Postgres started through the docker CLI.
// Data lives on tmpfs, so Stop discards it.
type postgresContainer struct {
	id  string
	dsn string
}

// startPostgres runs the container with its port published on an ephemeral
// loopback port and waits until the eligibility pool can ping it.
func startPostgres(ctx context.Context) (*postgresContainer, error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, fmt.Errorf("docker not available: %w", err)
	}

	out, err := docker(ctx, "run", "-d", "--rm",
		"--label", containerLabel,
		"--tmpfs", "/var/lib/postgresql/data",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_DB="+postgresDB,
		"-e", "POSTGRES_USER="+postgresUser,
		"-e", "POSTGRES_PASSWORD="+postgresPass,
		postgresImage,
	)
	if err != nil {
		return nil, err
	}
	c := &postgresContainer{id: out}

	hostPort, err := c.publishedPort(ctx)
	if err != nil {
		c.Stop()
		return nil, err
	}
	c.dsn = fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", postgresUser, postgresPass, hostPort, postgresDB)

	if err := c.waitReady(ctx, postgresStartup); err != nil {
		c.Stop()
		return nil, err
	}
	return c, nil
}

// publishedPort asks docker which host address 5432 was mapped to.
func (c *postgresContainer) publishedPort(ctx context.Context) (string, error) {
	out, err := docker(ctx, "port", c.id, "5432/tcp")
	if err != nil {
		return "", err
	}
	// One line per address family; the loopback IPv4 binding comes first.
	line, _, _ := strings.Cut(out, "\n")
	if _, _, err := net.SplitHostPort(line); err != nil {
		return "", fmt.Errorf("unexpected docker port output %q: %w", out, err)
	}
	return line, nil
}

// waitReady polls pg_isready and then the server's pool constructor. The image
// restarts Postgres once after init.
func (c *postgresContainer) waitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for {
		if _, err := docker(ctx, "exec", c.id, "pg_isready", "-U", postgresUser, "-d", postgresDB); err != nil {
			lastErr = err
		} else if pool, err := db.NewPool(ctx, c.dsn, 1, 0); err != nil {
			lastErr = err
		} else {
			pool.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %v: %w", timeout, errors.Join(ctx.Err(), lastErr))
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (c *postgresContainer) DSN() string { return c.dsn }

// Stop removes the container; --rm discards its volume.
func (c *postgresContainer) Stop() {
	_, _ = docker(context.Background(), "rm", "-f", c.id)
}

func docker(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}
