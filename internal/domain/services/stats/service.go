package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	"github.com/signal-bridge/signal_service/internal/domain/repositories"
	"github.com/signal-bridge/signal_service/pkg/logger"
)

const (
	DefaultReportDays       = 30
	MaxReportDays           = 365
	DefaultLeaderboardLimit = 20
	MaxLeaderboardLimit     = 100
)

// Service serves reports and maintains the stored rollups.
type Service struct {
	signals   repositories.SignalRepository
	providers repositories.ProviderRepository
	stats     repositories.StatsRepository
	logger    *logger.Logger
	now       func() time.Time
}

func NewService(signals repositories.SignalRepository, providers repositories.ProviderRepository, stats repositories.StatsRepository, logger *logger.Logger) *Service {
	return &Service{
		signals:   signals,
		providers: providers,
		stats:     stats,
		logger:    logger,
		now:       time.Now,
	}
}

func normalizeDays(days int) (int, error) {
	if days == 0 {
		return DefaultReportDays, nil
	}
	if days < 1 || days > MaxReportDays {
		return 0, domainerrors.ValidationError("days", fmt.Sprintf("must be between 1 and %d", MaxReportDays))
	}
	return days, nil
}

func normalizeLimit(limit int) (int, error) {
	if limit == 0 {
		return DefaultLeaderboardLimit, nil
	}
	if limit < 1 || limit > MaxLeaderboardLimit {
		return 0, domainerrors.ValidationError("limit", fmt.Sprintf("must be between 1 and %d", MaxLeaderboardLimit))
	}
	return limit, nil
}

// Recompute rebuilds every stored period for one provider.
func (s *Service) Recompute(ctx context.Context, providerID uuid.UUID) error {
	now := s.now().UTC()
	for _, period := range entities.StoredPeriods {
		var since *time.Time
		if w := period.Window(); w > 0 {
			t := now.Add(-w)
			since = &t
		}
		closed, err := s.signals.Closed(ctx, &providerID, since)
		if err != nil {
			return fmt.Errorf("load closed signals: %w", err)
		}
		rollup := Compute(closed)
		err = s.stats.Upsert(ctx, &entities.ProviderStats{
			ProviderID:   providerID,
			Period:       period,
			TotalSignals: rollup.TotalSignals,
			WinRate:      rollup.WinRate,
			TotalR:       rollup.TotalR,
			Rollup:       rollup,
			ComputedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("upsert %s stats: %w", period, err)
		}
	}
	return nil
}

// RecomputeAll rebuilds stored rollups for every active provider. A failing
// provider is logged and skipped.
func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	providers, err := s.providers.List(ctx, true)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, p := range providers {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if err := s.Recompute(ctx, p.ID); err != nil {
			s.logger.Warn("Stats recompute failed", "provider_id", p.ID, "error", err)
			continue
		}
		done++
	}
	return done, nil
}

// Performance returns a provider rollup over the trailing days.
func (s *Service) Performance(ctx context.Context, providerID uuid.UUID, days int) (*entities.PerformanceReport, error) {
	days, err := normalizeDays(days)
	if err != nil {
		return nil, err
	}
	provider, err := s.providers.GetByID(ctx, providerID)
	if err != nil {
		return nil, err
	}
	to := s.now().UTC()
	from := to.AddDate(0, 0, -days)
	closed, err := s.signals.Closed(ctx, &providerID, &from)
	if err != nil {
		return nil, domainerrors.InternalError("failed to load closed signals", err)
	}
	return &entities.PerformanceReport{
		ProviderID:   provider.ID,
		ProviderName: provider.Name,
		Days:         days,
		From:         from,
		To:           to,
		Rollup:       Compute(closed),
	}, nil
}

// EquityCurve returns cumulative R over the trailing days.
func (s *Service) EquityCurve(ctx context.Context, providerID uuid.UUID, days int) (*entities.EquityCurve, error) {
	days, err := normalizeDays(days)
	if err != nil {
		return nil, err
	}
	provider, err := s.providers.GetByID(ctx, providerID)
	if err != nil {
		return nil, err
	}
	from := s.now().UTC().AddDate(0, 0, -days)
	closed, err := s.signals.Closed(ctx, &providerID, &from)
	if err != nil {
		return nil, domainerrors.InternalError("failed to load closed signals", err)
	}
	curve := &entities.EquityCurve{
		ProviderID:   provider.ID,
		ProviderName: provider.Name,
		Days:         days,
		Points:       Equity(closed),
	}
	if n := len(curve.Points); n > 0 {
		start, end := curve.Points[0].Timestamp, curve.Points[n-1].Timestamp
		curve.StartDate, curve.EndDate = &start, &end
	}
	return curve, nil
}

// Leaderboard ranks providers live over the trailing days.
func (s *Service) Leaderboard(ctx context.Context, days, limit int) (*entities.Leaderboard, error) {
	days, err := normalizeDays(days)
	if err != nil {
		return nil, err
	}
	limit, err = normalizeLimit(limit)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	from := now.AddDate(0, 0, -days)
	closed, err := s.signals.Closed(ctx, nil, &from)
	if err != nil {
		return nil, domainerrors.InternalError("failed to load closed signals", err)
	}
	names, err := s.providerNames(ctx)
	if err != nil {
		return nil, err
	}

	byProvider := make(map[uuid.UUID][]*entities.Signal)
	for _, sig := range closed {
		byProvider[sig.ProviderID] = append(byProvider[sig.ProviderID], sig)
	}
	rows := make([]Ranked, 0, len(byProvider))
	for id, sigs := range byProvider {
		rows = append(rows, Ranked{ProviderID: id, ProviderName: names[id], Rollup: Compute(sigs)})
	}
	return &entities.Leaderboard{
		Period:      fmt.Sprintf("%dd", days),
		GeneratedAt: now,
		Entries:     Rank(rows, limit),
	}, nil
}

// AllTimeLeaderboard ranks the stored all_time rollups.
func (s *Service) AllTimeLeaderboard(ctx context.Context, limit int) (*entities.Leaderboard, error) {
	limit, err := normalizeLimit(limit)
	if err != nil {
		return nil, err
	}
	stored, err := s.stats.ListByPeriod(ctx, entities.StatsPeriodAllTime)
	if err != nil {
		return nil, domainerrors.InternalError("failed to load stored stats", err)
	}
	names, err := s.providerNames(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]Ranked, 0, len(stored))
	generated := time.Time{}
	for _, st := range stored {
		if st.Rollup.TotalSignals == 0 {
			continue
		}
		rows = append(rows, Ranked{ProviderID: st.ProviderID, ProviderName: names[st.ProviderID], Rollup: st.Rollup})
		if st.ComputedAt.After(generated) {
			generated = st.ComputedAt
		}
	}
	return &entities.Leaderboard{
		Period:      string(entities.StatsPeriodAllTime),
		GeneratedAt: generated,
		Entries:     Rank(rows, limit),
	}, nil
}

func (s *Service) providerNames(ctx context.Context) (map[uuid.UUID]string, error) {
	providers, err := s.providers.List(ctx, false)
	if err != nil {
		return nil, domainerrors.InternalError("failed to load providers", err)
	}
	names := make(map[uuid.UUID]string, len(providers))
	for _, p := range providers {
		names[p.ID] = p.Name
	}
	return names, nil
}
