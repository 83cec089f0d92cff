package graphdb

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/orneryd/nornicgraph/pkg/storage"
)

// DefaultDatabase is used when a request names no database.
const DefaultDatabase = "neo4j"

// Factory opens the storage engine for a database name.
type Factory func(name string) (storage.Engine, error)

// Catalog maps database names to databases. Databases are opened on first
// use. The set of names is fixed at construction and always includes the
// default.
type Catalog struct {
	defaultName string
	names       []string
	factory     Factory
	logger      *zap.Logger

	mu     sync.Mutex
	dbs    map[string]*DB
	closed bool
}

// NewCatalog creates a catalog serving defaultName plus extra. An empty
// defaultName means DefaultDatabase.
func NewCatalog(defaultName string, extra []string, factory Factory, logger *zap.Logger) *Catalog {
	if defaultName == "" {
		defaultName = DefaultDatabase
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	names := []string{defaultName}
	for _, n := range extra {
		if n != "" && !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	return &Catalog{
		defaultName: defaultName,
		names:       names,
		factory:     factory,
		logger:      logger,
		dbs:         make(map[string]*DB),
	}
}

// DefaultName returns the name used for requests without a database.
func (c *Catalog) DefaultName() string { return c.defaultName }

// Names returns every database name the catalog serves, default first.
func (c *Catalog) Names() []string { return slices.Clone(c.names) }

// Get returns the named database, opening it on first use. An empty name
// selects the default.
func (c *Catalog) Get(name string) (*DB, error) {
	if name == "" {
		name = c.defaultName
	}
	if !slices.Contains(c.names, name) {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if db, ok := c.dbs[name]; ok {
		return db, nil
	}

	engine, err := c.factory(name)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", name, err)
	}
	db := New(name, engine, c.logger)
	c.dbs[name] = db
	c.logger.Info("database opened", zap.String("database", name))
	return db, nil
}

// Opened returns the databases opened so far, in catalog order.
func (c *Catalog) Opened() []*DB {
	c.mu.Lock()
	defer c.mu.Unlock()
	var dbs []*DB
	for _, name := range c.names {
		if db, ok := c.dbs[name]; ok {
			dbs = append(dbs, db)
		}
	}
	return dbs
}

// Close closes every opened database and joins their errors.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for _, name := range c.names {
		if db, ok := c.dbs[name]; ok {
			errs = append(errs, db.Close())
		}
	}
	return errors.Join(errs...)
}
