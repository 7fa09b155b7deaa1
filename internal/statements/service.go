package statements

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/arstatement/internal/shared"
)

// Service exposes statement queries and the mutable delivery fields.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns one statement.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (Statement, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// ListByRun returns a page of statements produced by a run.
func (s *Service) ListByRun(ctx context.Context, tenantID, runID int64, limit, offset int) ([]Statement, error) {
	limit, offset = shared.NormalizePage(limit, offset)
	return s.repo.ListByRun(ctx, tenantID, runID, limit, offset)
}

// ListByProfile returns a profile's statements, newest first.
func (s *Service) ListByProfile(ctx context.Context, tenantID, profileID int64, limit, offset int) ([]Statement, error) {
	limit, offset = shared.NormalizePage(limit, offset)
	return s.repo.ListByProfile(ctx, tenantID, profileID, limit, offset)
}

// ListByAccount returns an account's statements, newest first.
func (s *Service) ListByAccount(ctx context.Context, tenantID, accountID int64, limit, offset int) ([]Statement, error) {
	limit, offset = shared.NormalizePage(limit, offset)
	return s.repo.ListByAccount(ctx, tenantID, accountID, limit, offset)
}

// UpdateDelivery records the state of one distribution channel.
func (s *Service) UpdateDelivery(ctx context.Context, in UpdateDeliveryInput) (Statement, error) {
	ch, err := ParseChannel(strings.ToUpper(string(in.Channel)))
	if err != nil {
		return Statement{}, err
	}
	status := DeliveryStatus(strings.ToUpper(string(in.Status)))
	if !validDeliveryStatus(status) {
		return Statement{}, ErrInvalidDelivery
	}
	at := s.now().UTC()
	st, err := s.repo.UpdateDelivery(ctx, in.TenantID, in.StatementID, ch, DeliveryState{
		Status:    status,
		UpdatedAt: &at,
		Detail:    strings.TrimSpace(in.Detail),
	})
	if err != nil {
		return Statement{}, err
	}
	s.logger.Debug("statement delivery updated",
		slog.Int64("statement_id", st.ID), slog.String("channel", string(ch)), slog.String("status", string(status)))
	return st, nil
}

// MarkPortalViewed stamps the first portal view; later calls keep the original timestamp.
func (s *Service) MarkPortalViewed(ctx context.Context, tenantID, id int64) (Statement, error) {
	return s.repo.MarkPortalViewed(ctx, tenantID, id, s.now().UTC())
}

// SumRun re-aggregates the persisted statements of a run.
func (s *Service) SumRun(ctx context.Context, tenantID, runID int64) (RunSums, error) {
	return s.repo.SumRun(ctx, tenantID, runID)
}

// AllForRun pages through every statement of a run.
func (s *Service) AllForRun(ctx context.Context, tenantID, runID int64) ([]Statement, error) {
	var out []Statement
	for offset := 0; ; offset += shared.MaxPageLimit {
		page, err := s.repo.ListByRun(ctx, tenantID, runID, shared.MaxPageLimit, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < shared.MaxPageLimit {
			return out, nil
		}
	}
}
