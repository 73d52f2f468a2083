package graph

//go:generate mockgen -destination=../../mocks/graph_mocks.go -package=mocks relentless-tracks/internal/graph DriverSessioner,SessionRunner

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// SessionRunner abstracts neo4j.SessionWithContext.
type SessionRunner interface {
	ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork, configurers ...func(*neo4j.TransactionConfig)) (any, error)
	Close(ctx context.Context) error
}

// DriverSessioner abstracts neo4j.DriverWithContext.
type DriverSessioner interface {
	NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner
	Close(ctx context.Context) error
}

type neo4jDriver struct {
	driver neo4j.DriverWithContext
}

// NewDriver connects to Neo4j with basic auth.
func NewDriver(uri, user, password string) (DriverSessioner, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, err
	}
	return &neo4jDriver{driver: driver}, nil
}

func (d *neo4jDriver) NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner {
	return d.driver.NewSession(ctx, config)
}

func (d *neo4jDriver) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}
