// Package testutil starts the backing services integration and e2e tests run
// against. Every container is removed through t.Cleanup.
package testutil

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/cloo-solutions/chimera/internal/database"
	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Service is a started container and the host port its main port maps to.
type Service struct {
	Container testcontainers.Container
	Host      string
	Port      string
}

// Addr is host:port of the mapped port.
func (s *Service) Addr() string {
	return s.Host + ":" + s.Port
}

// PortNumber is the mapped port as an int, for clients that take one.
func (s *Service) PortNumber() int {
	n, _ := strconv.Atoi(s.Port)
	return n
}

func startService(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest) *Service {
	t.Helper()
	if testing.Short() {
		t.Skipf("skipping %s container in short mode", req.Image)
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start %s: %v", req.Image, err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(c) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get %s host: %v", req.Image, err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(req.ExposedPorts[0]))
	if err != nil {
		t.Fatalf("failed to get %s port: %v", req.Image, err)
	}
	return &Service{Container: c, Host: host, Port: mapped.Port()}
}

// Postgres is a pgvector enabled Postgres.
type Postgres struct {
	*Service
	User, Password, Database string
}

func StartPostgres(ctx context.Context, t *testing.T) *Postgres {
	const user, password, db = "chimera", "chimera", "chimera"
	svc := startService(ctx, t, testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:0.8.1-pg18",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     user,
			"POSTGRES_PASSWORD": password,
			"POSTGRES_DB":       db,
		},
		// the entrypoint restarts postgres once after init
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	})
	return &Postgres{Service: svc, User: user, Password: password, Database: db}
}

func (p *Postgres) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", p.User, p.Password, p.Addr(), p.Database)
}

// MigratedPool runs the embedded migrations with golang-migrate and returns
// a pool that is closed on cleanup.
func (p *Postgres) MigratedPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	if err := database.Migrate(p.URL(), nil); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	pool, err := database.NewPool(ctx, database.Config{URL: p.URL(), MaxConns: 4})
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// Neo4j runs the community edition with auth enabled.
type Neo4j struct {
	*Service
	User, Password string
}

func StartNeo4j(ctx context.Context, t *testing.T) *Neo4j {
	const user, password = "neo4j", "chimera-test"
	svc := startService(ctx, t, testcontainers.ContainerRequest{
		Image:        "neo4j:5.26-community",
		ExposedPorts: []string{"7687/tcp"},
		Env:          map[string]string{"NEO4J_AUTH": user + "/" + password},
		WaitingFor: wait.ForAll(
			wait.ForLog("Started."),
			wait.ForListeningPort("7687/tcp"),
		).WithStartupTimeout(90 * time.Second),
	})
	return &Neo4j{Service: svc, User: user, Password: password}
}

func (n *Neo4j) BoltURI() string {
	return "bolt://" + n.Addr()
}

// Qdrant exposes the gRPC port only; the go client does not use REST.
type Qdrant struct {
	*Service
}

func StartQdrant(ctx context.Context, t *testing.T) *Qdrant {
	svc := startService(ctx, t, testcontainers.ContainerRequest{
		Image:        "qdrant/qdrant:v1.15.4",
		ExposedPorts: []string{"6334/tcp"},
		WaitingFor:   wait.ForListeningPort("6334/tcp").WithStartupTimeout(60 * time.Second),
	})
	return &Qdrant{Service: svc}
}

// RustFS is an S3 compatible object store.
type RustFS struct {
	*Service
	AccessKey, SecretKey string
}

func StartRustFS(ctx context.Context, t *testing.T) *RustFS {
	const key = "rustfsadmin"
	svc := startService(ctx, t, testcontainers.ContainerRequest{
		Image:        "rustfs/rustfs:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"RUSTFS_ACCESS_KEY": key,
			"RUSTFS_SECRET_KEY": key,
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	})
	return &RustFS{Service: svc, AccessKey: key, SecretKey: key}
}

func (r *RustFS) Endpoint() string {
	return "http://" + r.Addr()
}
