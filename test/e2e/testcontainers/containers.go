// Package testcontainers starts the PostgreSQL, RabbitMQ and Mosquitto
// containers used by the e2e suites.
package testcontainers

import (
	"context"
	"errors"
	"fmt"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Endpoint is a started container and the address of its main port.
type Endpoint struct {
	Container testcontainers.Container
	Host      string
	Port      int
}

// Terminate stops the container.
func (e *Endpoint) Terminate(ctx context.Context) error {
	if e == nil || e.Container == nil {
		return nil
	}
	return e.Container.Terminate(ctx)
}

func start(ctx context.Context, req testcontainers.ContainerRequest, port string) (*Endpoint, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s container: %w", req.Image, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to get container host: %w", err), container.Terminate(ctx))
	}

	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to get container port: %w", err), container.Terminate(ctx))
	}

	return &Endpoint{Container: container, Host: host, Port: mapped.Int()}, nil
}

// Postgres is a started PostgreSQL container.
type Postgres struct {
	*Endpoint
	User     string
	Password string
	Database string
}

// StartPostgres starts PostgreSQL 16 with user and password "postgres".
func StartPostgres(ctx context.Context, database string) (*Postgres, error) {
	if database == "" {
		database = "wedro"
	}

	endpoint, err := start(ctx, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
		Env: map[string]string{
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_DB":       database,
		},
	}, "5432/tcp")
	if err != nil {
		return nil, err
	}

	return &Postgres{Endpoint: endpoint, User: "postgres", Password: "postgres", Database: database}, nil
}

// StartRabbitMQ starts RabbitMQ 3 and returns it with its AMQP URL.
func StartRabbitMQ(ctx context.Context) (*Endpoint, string, error) {
	endpoint, err := start(ctx, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3-management-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5672/tcp"),
			wait.ForLog("Server startup complete"),
		),
		Env: map[string]string{
			"RABBITMQ_DEFAULT_USER": "guest",
			"RABBITMQ_DEFAULT_PASS": "guest",
		},
	}, "5672/tcp")
	if err != nil {
		return nil, "", err
	}

	return endpoint, fmt.Sprintf("amqp://guest:guest@%s:%d/", endpoint.Host, endpoint.Port), nil
}

// StartMosquitto starts an anonymous Mosquitto 2 broker and returns it with
// its broker URL.
func StartMosquitto(ctx context.Context) (*Endpoint, string, error) {
	endpoint, err := start(ctx, testcontainers.ContainerRequest{
		Image:        "eclipse-mosquitto:2",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
	}, "1883/tcp")
	if err != nil {
		return nil, "", err
	}

	return endpoint, fmt.Sprintf("tcp://%s:%d", endpoint.Host, endpoint.Port), nil
}
