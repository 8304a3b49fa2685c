// Package pool maintains a pool of ready embedded engine instances for
// callers that need several concurrent servers, such as parallel test
// suites. Instances are started lazily on first acquire and stopped
// when the pool is closed or a lease is destroyed.
package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/puddle/v2"
	"go.uber.org/zap"

	"github.com/embergraph/embergo"
)

var ErrNoFactory = errors.New("no instance factory provided")

// Factory creates a fresh, not-yet-started instance. Each call must
// return an instance with a distinct socket path.
type Factory func(ctx context.Context) (*embergo.Instance, error)

type Params struct {
	// MaxInstances caps the number of concurrently running instances.
	MaxInstances int32

	// Factory is called whenever the pool needs a new instance.
	Factory Factory

	// Log is the logger to use for the pool
	Log *zap.Logger
}

type Pool struct {
	pool *puddle.Pool[*embergo.Instance]
	log  *zap.Logger
}

func New(params Params) (*Pool, error) {
	if params.Factory == nil {
		return nil, ErrNoFactory
	}

	if params.MaxInstances <= 0 {
		params.MaxInstances = 1
	}

	if params.Log == nil {
		params.Log = zap.NewNop()
	}

	log := params.Log.Named("pool")

	constructor := func(ctx context.Context) (*embergo.Instance, error) {
		instance, err := params.Factory(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create instance: %w", err)
		}

		if err := instance.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start instance: %w", err)
		}

		log.Debug("instance booted", zap.String("socket", instance.SocketPath()))

		return instance, nil
	}

	destructor := func(instance *embergo.Instance) {
		log.Debug("stopping instance", zap.String("socket", instance.SocketPath()))
		instance.Stop(context.Background(), false)
	}

	pool, err := puddle.NewPool(&puddle.Config[*embergo.Instance]{
		Constructor: constructor,
		Destructor:  destructor,
		MaxSize:     params.MaxInstances,
	})
	if err != nil {
		return nil, err
	}

	return &Pool{
		pool: pool,
		log:  log,
	}, nil
}

// Acquire returns a lease on a ready instance, booting one if the pool
// has capacity, or blocking until one is released.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	resource, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("error acquiring instance: %w", err)
	}

	return &Lease{resource: resource}, nil
}

// Close stops every pooled instance and waits for all leases to be
// returned.
func (p *Pool) Close() {
	p.log.Debug("closing pool")
	p.pool.Close()
}

// Lease is exclusive access to one pooled instance.
type Lease struct {
	resource *puddle.Resource[*embergo.Instance]
}

// Instance returns the leased instance.
func (l *Lease) Instance() *embergo.Instance {
	return l.resource.Value()
}

// Release returns the instance to the pool for reuse.
func (l *Lease) Release() {
	l.resource.Release()
}

// Destroy stops the instance instead of returning it; the pool will
// boot a replacement on demand.
func (l *Lease) Destroy() {
	l.resource.Destroy()
}
