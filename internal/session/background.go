package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/chatsync/internal/api"
	"github.com/nhle/chatsync/internal/model"
)

// backgroundTimeout bounds each background fetch.
const backgroundTimeout = 30 * time.Second

// goBackground runs fn on a tracked goroutine. fn's context is cancelled by
// Close. Work scheduled after Close is dropped.
func (c *Controller) goBackground(fn func(ctx context.Context)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.bg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, backgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// hydrate loads history, active alerts and the summary of a restored
// session concurrently. Each fetch fails on its own; none of them ends the
// session.
func (c *Controller) hydrate(ctx context.Context, epoch uint64, sessionID string) {
	var g errgroup.Group

	g.Go(func() error {
		c.loadHistory(ctx, epoch, sessionID)
		return nil
	})
	g.Go(func() error {
		c.refreshActiveAlerts(ctx, epoch, sessionID)
		return nil
	})
	g.Go(func() error {
		if err := c.refreshSummary(ctx, epoch, sessionID); err != nil && !errors.Is(err, errStale) {
			c.logger.Warn("restoring summary failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		return nil
	})

	_ = g.Wait()
}

func (c *Controller) loadHistory(ctx context.Context, epoch uint64, sessionID string) {
	resp, err := c.backend.GetSessionMessages(ctx, sessionID, c.cfg.HistoryLimit)
	if err != nil {
		c.logger.Warn("restoring history failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	c.mu.Lock()
	if c.epoch != epoch || c.buffer == nil {
		c.mu.Unlock()
		return
	}
	buf := c.buffer
	if !resp.Session.CreatedAt.IsZero() {
		c.session.CreatedAt = resp.Session.CreatedAt
	}
	c.mu.Unlock()

	buf.Load(resp.Messages)
}

// refreshActiveAlerts replaces the cached active alerts of the session.
func (c *Controller) refreshActiveAlerts(ctx context.Context, epoch uint64, sessionID string) {
	alerts, err := c.backend.ListAlerts(ctx, api.AlertFilter{
		Scope:     model.AlertScopeSession,
		SessionID: sessionID,
		Status:    model.AlertStatusActive,
		Limit:     c.cfg.AlertLimit,
	})
	if err != nil {
		c.logger.Warn("refreshing alerts failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	c.storeAlerts(epoch, activeOnly(alerts))
}

func (c *Controller) storeAlerts(epoch uint64, alerts []model.Alert) {
	c.mu.Lock()
	if c.epoch != epoch || c.session == nil {
		c.mu.Unlock()
		return
	}
	c.alerts = alerts
	sessionID := c.session.ID
	c.mu.Unlock()

	c.publish(Event{Kind: EventAlerts, State: StateActive, SessionID: sessionID})
}

func (c *Controller) refreshSummary(ctx context.Context, epoch uint64, sessionID string) error {
	summary, err := c.backend.GetSessionSummary(ctx, sessionID)
	if err != nil {
		if api.IsNotFound(err) {
			return nil
		}
		c.logger.Debug("summary refresh failed", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}
	if summary == nil {
		return nil
	}

	c.mu.Lock()
	if c.epoch != epoch || c.session == nil {
		c.mu.Unlock()
		return errStale
	}
	c.session.Summary = summary
	c.mu.Unlock()

	c.publish(Event{Kind: EventSummary, State: StateActive, SessionID: sessionID})
	return nil
}
