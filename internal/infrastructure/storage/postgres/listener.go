package postgres

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"shopfiscal/pkg/logger"
)

// CatalogChannel is raised by the catalog table triggers with the table name as payload.
const CatalogChannel = "fiscal_catalog_changed"

// NotificationHandler receives the payload of a catalog change.
// An empty payload means "everything may have changed".
type NotificationHandler func(payload string)

// CatalogListener keeps a dedicated connection on LISTEN and forwards notifications.
type CatalogListener struct {
	pool    *pgxpool.Pool
	handler NotificationHandler

	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// NewCatalogListener creates a listener that calls handler on every notification.
func NewCatalogListener(pool *Pool, handler NotificationHandler) *CatalogListener {
	return &CatalogListener{pool: pool.Pool, handler: handler}
}

// Start begins listening in the background.
func (l *CatalogListener) Start(ctx context.Context) {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()
	if l.started {
		return
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.started = true

	l.wg.Add(1)
	go l.listenLoop()
	logger.Info(l.ctx, "catalog listener started", "channel", CatalogChannel)
}

// Stop ends the listener and waits for it to exit.
func (l *CatalogListener) Stop() {
	l.lifecycleMu.Lock()
	if !l.started {
		l.lifecycleMu.Unlock()
		return
	}
	cancel := l.cancel
	l.started = false
	l.lifecycleMu.Unlock()

	cancel()
	l.wg.Wait()
	logger.Info(context.Background(), "catalog listener stopped")
}

func (l *CatalogListener) listenLoop() {
	defer l.wg.Done()

	for l.ctx.Err() == nil {
		conn, err := l.pool.Acquire(l.ctx)
		if err != nil {
			logger.Error(l.ctx, "failed to acquire connection for LISTEN", "error", err)
			l.sleep(time.Second)
			continue
		}

		if _, err := conn.Exec(l.ctx, "LISTEN "+CatalogChannel); err != nil {
			logger.Error(l.ctx, "failed to LISTEN", "error", err)
			conn.Release()
			l.sleep(time.Second)
			continue
		}

		// Changes made while no connection was listening went unseen.
		l.dispatch("")

		l.waitForNotifications(conn)
		releaseListenConn(pooledListenConn{conn})
	}
}

// listenConn is the part of a pooled connection needed to hand it back.
type listenConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Release()
	Discard()
}

type pooledListenConn struct {
	*pgxpool.Conn
}

// Discard closes the connection so that Release destroys it instead of pooling it.
func (c pooledListenConn) Discard() {
	_ = c.Conn.Conn().Close(context.Background())
	c.Conn.Release()
}

// releaseListenConn returns a connection to the pool only once it is no longer
// subscribed. If UNLISTEN fails the connection is closed instead.
func releaseListenConn(conn listenConn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		conn.Discard()
		return
	}
	conn.Release()
}

// waitForNotifications returns when the listener stops or the connection breaks.
func (l *CatalogListener) waitForNotifications(conn *pgxpool.Conn) {
	for {
		ctx, cancel := context.WithTimeout(l.ctx, 30*time.Second)
		n, err := conn.Conn().WaitForNotification(ctx)
		cancel()

		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Warn(l.ctx, "catalog listener connection lost", "error", err)
			// A broken connection must not go back to the pool.
			_ = conn.Conn().Close(context.Background())
			l.sleep(time.Second)
			return
		}

		logger.Debug(l.ctx, "received notification", "channel", n.Channel, "payload", n.Payload)
		l.dispatch(n.Payload)
	}
}

func (l *CatalogListener) dispatch(payload string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(l.ctx, "catalog handler panic recovered", "payload", payload, "panic", r)
		}
	}()
	l.handler(payload)
}

func (l *CatalogListener) sleep(d time.Duration) {
	select {
	case <-l.ctx.Done():
	case <-time.After(d):
	}
}
