// Package engine is the desk facade the API and CLI talk to. It pins
// series subscriptions, derives stop references and assembles position
// plans from the series, market info and balance layers.
package engine

import (
	"context"
	"errors"
	"time"

	"risk-desk/internal/extremum"
	"risk-desk/internal/risk"
	"risk-desk/internal/series"
)

var (
	ErrUnknownProfile   = errors.New("unknown risk profile")
	ErrNoStopReference  = errors.New("no stop reference")
	ErrReadyTimeout     = errors.New("timed out waiting for series")
	ErrInvalidPlanInput = errors.New("invalid plan request")
)

// Service defines the operations exposed to the control surfaces.
type Service interface {
	// Series
	Subscribe(ctx context.Context, key series.Key) (*series.Subscription, error)
	Watch(ctx context.Context, key series.Key) (*series.Snapshot, error)
	WaitReady(ctx context.Context, key series.Key, timeout time.Duration) (*series.Snapshot, error)
	Series(key series.Key) (*series.Snapshot, error)
	LoadMore(ctx context.Context, key series.Key) (*series.Snapshot, error)
	Reset(key series.Key) error
	Release(key series.Key) error
	Watched() []series.Key

	// Stop reference and planning
	StopReference(key series.Key, side extremum.TradeSide) (extremum.StopReference, error)
	Plan(ctx context.Context, req PlanRequest) (*PlanResult, error)
	Profiles() map[string]risk.RiskConfig

	// System
	GetSystemStatus(ctx context.Context) *SystemStatus
}
