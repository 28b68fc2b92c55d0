package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/aula-go-api/internal/apperr"
	"github.com/noah-isme/aula-go-api/internal/dto"
	"github.com/noah-isme/aula-go-api/internal/models"
	"github.com/noah-isme/aula-go-api/internal/observability"
	"github.com/noah-isme/aula-go-api/internal/repository"
	"github.com/noah-isme/aula-go-api/internal/snapshot"
)

// ErrClassNotFound indicates the class scope could not be resolved.
var ErrClassNotFound = errors.New("class not found")

// SyncService reconciles authoritative curriculum snapshots into the store.
type SyncService interface {
	Apply(ctx context.Context, classSlug string, doc snapshot.Document, force bool) (dto.SyncReport, error)
}

type syncService struct {
	classes     repository.ClassRepository
	curriculum  repository.CurriculumRepository
	nats        *nats.Conn
	natsSubject string
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewSyncService constructs the curriculum synchronizer.
func NewSyncService(classes repository.ClassRepository, curriculum repository.CurriculumRepository, natsConn *nats.Conn, natsSubject string, logger zerolog.Logger) SyncService {
	return &syncService{
		classes:     classes,
		curriculum:  curriculum,
		nats:        natsConn,
		natsSubject: natsSubject,
		logger:      logger.With().Str("component", "sync_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/aula-go-api/internal/service/sync"),
		now:         time.Now,
	}
}

// Apply runs one reconciliation pass. Entity types are applied in dependency
// order (modules, constituents, items, policies), each in its own
// transaction; a failed type leaves previously committed types in place and
// is reported per type rather than rolled back. Re-running the same snapshot
// is safe because every upsert is keyed by natural identifier.
func (s *syncService) Apply(ctx context.Context, classSlug string, doc snapshot.Document, force bool) (dto.SyncReport, error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "curriculum.sync", trace.WithAttributes(
		attribute.String("sync.class", classSlug),
		attribute.Bool("sync.force", force),
	))
	defer span.End()

	report := dto.SyncReport{
		RunID: uuid.NewString(),
		Class: classSlug,
		Force: force,
	}

	if doc.Class != classSlug {
		err := apperr.Newf(apperr.KindValidation, "snapshot is addressed to class %q, not %q", doc.Class, classSlug)
		span.RecordError(err)
		span.SetStatus(codes.Error, "class_mismatch")
		return report, err
	}

	class, err := s.classes.GetBySlug(ctx, classSlug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "class_not_found")
			return report, apperr.Wrap(apperr.KindNotFound, "class not found", ErrClassNotFound)
		}
		span.RecordError(err)
		return report, err
	}

	report.Modules = s.syncModules(ctx, class.ID, doc.Modules, force)
	report.Constituents = s.syncConstituents(ctx, class.ID, doc.Constituents, force)
	report.Items = s.syncItems(ctx, class.ID, doc.Items, force)
	report.Policies = s.syncPolicies(ctx, class.ID, doc.Policies, force)

	failed := report.FailedTypes()
	report.Success = len(failed) == 0
	report.CompletedAt = s.now()

	status := "success"
	if !report.Success {
		status = "partial_failure"
		span.SetStatus(codes.Error, "partial_failure")
	}
	observability.SyncRuns().WithLabelValues(classSlug, status).Inc()
	observability.SyncLatency().WithLabelValues(classSlug).Observe(report.CompletedAt.Sub(start).Seconds())

	s.publishSynced(report)

	logEvent := s.logger.Info()
	if !report.Success {
		logEvent = s.logger.Error().Strs("failed_types", failed)
	}
	logEvent.
		Str("run_id", report.RunID).
		Str("class", classSlug).
		Bool("force", force).
		Msg("curriculum sync completed")

	if !report.Success {
		return report, apperr.Newf(apperr.KindIntegrity, "sync partially failed for types %v; re-run the snapshot to recover", failed)
	}

	return report, nil
}

func (s *syncService) syncModules(ctx context.Context, classID uint, records []snapshot.ModuleRecord, force bool) dto.SyncTypeReport {
	report := dto.SyncTypeReport{}

	existing, err := s.curriculum.ListCurrentModules(ctx, classID)
	if err != nil {
		report.Error = fmt.Sprintf("failed to load current modules: %v", err)
		return report
	}

	byKey := make(map[string]models.Module, len(existing))
	for _, row := range existing {
		byKey[row.Key] = row
	}

	desired := make([]models.Module, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		desired = append(desired, moduleFromRecord(classID, rec))
		seen[rec.Key] = struct{}{}

		if force {
			continue
		}
		prev, ok := byKey[rec.Key]
		switch {
		case !ok:
			report.Created++
		case moduleChanged(prev, rec):
			report.Updated++
		default:
			report.Unchanged++
		}
	}
	for key := range byKey {
		if _, ok := seen[key]; !ok {
			report.Deactivated++
		}
	}

	if err := s.curriculum.ReplaceModules(ctx, classID, desired); err != nil {
		report.Error = fmt.Sprintf("apply failed: %v", err)
	}
	return report
}

func (s *syncService) syncConstituents(ctx context.Context, classID uint, records []snapshot.ConstituentRecord, force bool) dto.SyncTypeReport {
	report := dto.SyncTypeReport{}

	existing, err := s.curriculum.ListCurrentConstituents(ctx, classID)
	if err != nil {
		report.Error = fmt.Sprintf("failed to load current constituents: %v", err)
		return report
	}

	bySlug := make(map[string]models.Constituent, len(existing))
	for _, row := range existing {
		bySlug[row.Slug] = row
	}

	desired := make([]models.Constituent, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		desired = append(desired, constituentFromRecord(classID, rec))
		seen[rec.Slug] = struct{}{}

		if force {
			continue
		}
		prev, ok := bySlug[rec.Slug]
		switch {
		case !ok:
			report.Created++
		case constituentChanged(prev, rec):
			report.Updated++
		default:
			report.Unchanged++
		}
	}
	for slug := range bySlug {
		if _, ok := seen[slug]; !ok {
			report.Deactivated++
		}
	}

	if err := s.curriculum.ReplaceConstituents(ctx, classID, desired); err != nil {
		report.Error = fmt.Sprintf("apply failed: %v", err)
	}
	return report
}

func (s *syncService) syncItems(ctx context.Context, classID uint, records []snapshot.ItemRecord, force bool) dto.SyncTypeReport {
	report := dto.SyncTypeReport{}

	existing, err := s.curriculum.ListCurrentItems(ctx, classID)
	if err != nil {
		report.Error = fmt.Sprintf("failed to load current items: %v", err)
		return report
	}

	byKey := make(map[string]models.Item, len(existing))
	for _, row := range existing {
		byKey[row.Key] = row
	}

	desired := make([]models.Item, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		desired = append(desired, itemFromRecord(classID, rec))
		seen[rec.Key] = struct{}{}

		if force {
			continue
		}
		prev, ok := byKey[rec.Key]
		switch {
		case !ok:
			report.Created++
		case itemChanged(prev, rec):
			report.Updated++
		default:
			report.Unchanged++
		}
	}
	for key := range byKey {
		if _, ok := seen[key]; !ok {
			report.Deactivated++
		}
	}

	if err := s.curriculum.ReplaceItems(ctx, classID, desired); err != nil {
		report.Error = fmt.Sprintf("apply failed: %v", err)
	}
	return report
}

func (s *syncService) syncPolicies(ctx context.Context, classID uint, records []snapshot.PolicyRecord, force bool) dto.SyncTypeReport {
	report := dto.SyncTypeReport{}

	existing, err := s.curriculum.ListCurrentPolicies(ctx, classID)
	if err != nil {
		report.Error = fmt.Sprintf("failed to load current policies: %v", err)
		return report
	}

	type policyKey struct {
		module  string
		version string
	}
	byKey := make(map[policyKey]models.GradingPolicy, len(existing))
	for _, row := range existing {
		byKey[policyKey{module: row.ModuleKey, version: row.Version}] = row
	}

	desired := make([]models.GradingPolicy, 0, len(records))
	seen := make(map[policyKey]struct{}, len(records))
	for _, rec := range records {
		row, err := policyFromRecord(classID, rec)
		if err != nil {
			report.Error = fmt.Sprintf("policy %q: %v", rec.Name, err)
			return report
		}
		desired = append(desired, row)

		key := policyKey{module: row.ModuleKey, version: row.Version}
		seen[key] = struct{}{}

		if force {
			continue
		}
		prev, ok := byKey[key]
		switch {
		case !ok:
			report.Created++
		case policyChanged(prev, row):
			report.Updated++
		default:
			report.Unchanged++
		}
	}
	for key := range byKey {
		if _, ok := seen[key]; !ok {
			report.Deactivated++
		}
	}

	if err := s.curriculum.ReplacePolicies(ctx, classID, desired); err != nil {
		report.Error = fmt.Sprintf("apply failed: %v", err)
	}
	return report
}

func (s *syncService) publishSynced(report dto.SyncReport) {
	if s.nats == nil || s.natsSubject == "" {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := s.nats.Publish(s.natsSubject, payload); err != nil {
		s.logger.Warn().Err(err).Str("run_id", report.RunID).Msg("failed to publish sync event")
	}
}

// Snapshot-to-model mapping with the authoring defaults.

func moduleFromRecord(classID uint, rec snapshot.ModuleRecord) models.Module {
	color := rec.Color
	if color == "" {
		color = "#4a90e2"
	}
	return models.Module{
		ClassID:     classID,
		Key:         rec.Key,
		Name:        rec.Name,
		Description: rec.Description,
		Weight:      rec.Weight,
		OrderIndex:  rec.Order,
		Color:       color,
		Icon:        rec.Icon,
		IsCurrent:   true,
	}
}

func constituentFromRecord(classID uint, rec snapshot.ConstituentRecord) models.Constituent {
	typ := rec.Type
	if typ == "" {
		typ = "implementation"
	}
	maxAttempts := rec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return models.Constituent{
		ClassID:     classID,
		Slug:        rec.Slug,
		Name:        rec.Name,
		Description: rec.Description,
		ModuleKey:   rec.Module,
		Weight:      rec.Weight,
		Type:        typ,
		MaxAttempts: maxAttempts,
		IsCurrent:   true,
	}
}

func itemFromRecord(classID uint, rec snapshot.ItemRecord) models.Item {
	deliveryType := rec.DeliveryType
	if deliveryType == "" {
		deliveryType = "upload"
	}
	return models.Item{
		ClassID:         classID,
		Key:             rec.Key,
		ConstituentSlug: rec.Constituent,
		Title:           rec.Title,
		Points:          rec.Points,
		DeliveryType:    deliveryType,
		DueDate:         rec.DueDate.UTC(),
		IsActive:        rec.IsActive(),
		IsCurrent:       true,
	}
}

func policyFromRecord(classID uint, rec snapshot.PolicyRecord) (models.GradingPolicy, error) {
	rules, err := json.Marshal(rec.Rules)
	if err != nil {
		return models.GradingPolicy{}, fmt.Errorf("failed to encode rules: %w", err)
	}
	moduleKey := ""
	if rec.Module != nil {
		moduleKey = *rec.Module
	}
	return models.GradingPolicy{
		ClassID:    classID,
		ModuleKey:  moduleKey,
		PolicyName: rec.Name,
		Version:    rec.Version,
		Rules:      rules,
		IsActive:   true,
		IsCurrent:  true,
	}, nil
}

// Per-field typed equality; textual representation, key order, and timezone
// never produce a false Modified classification.

func moduleChanged(prev models.Module, rec snapshot.ModuleRecord) bool {
	mapped := moduleFromRecord(prev.ClassID, rec)
	return prev.Name != mapped.Name ||
		prev.Description != mapped.Description ||
		!snapshot.EqualNumber(prev.Weight, mapped.Weight) ||
		prev.OrderIndex != mapped.OrderIndex ||
		prev.Color != mapped.Color ||
		prev.Icon != mapped.Icon
}

func constituentChanged(prev models.Constituent, rec snapshot.ConstituentRecord) bool {
	mapped := constituentFromRecord(prev.ClassID, rec)
	return prev.Name != mapped.Name ||
		prev.Description != mapped.Description ||
		prev.ModuleKey != mapped.ModuleKey ||
		!snapshot.EqualNumber(prev.Weight, mapped.Weight) ||
		prev.Type != mapped.Type ||
		prev.MaxAttempts != mapped.MaxAttempts
}

func itemChanged(prev models.Item, rec snapshot.ItemRecord) bool {
	mapped := itemFromRecord(prev.ClassID, rec)
	return prev.ConstituentSlug != mapped.ConstituentSlug ||
		prev.Title != mapped.Title ||
		!snapshot.EqualNumber(prev.Points, mapped.Points) ||
		prev.DeliveryType != mapped.DeliveryType ||
		!snapshot.EqualInstant(prev.DueDate, mapped.DueDate) ||
		prev.IsActive != mapped.IsActive
}

func policyChanged(prev, next models.GradingPolicy) bool {
	if prev.PolicyName != next.PolicyName || prev.IsActive != next.IsActive {
		return true
	}

	var prevRules, nextRules interface{}
	if err := json.Unmarshal(prev.Rules, &prevRules); err != nil {
		return true
	}
	if err := json.Unmarshal(next.Rules, &nextRules); err != nil {
		return true
	}
	return !snapshot.EqualJSON(prevRules, nextRules)
}
