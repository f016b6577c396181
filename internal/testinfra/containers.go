//go:build integration

// containers.go
//
// Disposable Postgres and Redis for store integration tests.
// Run with: go test -tags integration ./...
package testinfra

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DockerAvailable reports whether the Docker daemon answers.
func DockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "docker", "info").Run() == nil
}

// StartPostgres runs postgres:16-alpine and returns its connection URL and a
// terminate func.
func StartPostgres(ctx context.Context) (string, func(), error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test_user",
				"POSTGRES_PASSWORD": "test_pass",
				"POSTGRES_DB":       "cinesense_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("starting postgres container: %w", err)
	}
	endpoint, err := c.PortEndpoint(ctx, "5432/tcp", "")
	if err != nil {
		c.Terminate(ctx)
		return "", nil, fmt.Errorf("resolving postgres endpoint: %w", err)
	}
	url := fmt.Sprintf("postgres://test_user:test_pass@%s/cinesense_test?sslmode=disable", endpoint)
	return url, func() { c.Terminate(context.Background()) }, nil
}

// StartRedis runs redis:7-alpine and returns its URL and a terminate func.
func StartRedis(ctx context.Context) (string, func(), error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("starting redis container: %w", err)
	}
	endpoint, err := c.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		c.Terminate(ctx)
		return "", nil, fmt.Errorf("resolving redis endpoint: %w", err)
	}
	return "redis://" + endpoint, func() { c.Terminate(context.Background()) }, nil
}
