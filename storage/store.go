package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentnet/coordination"
	"github.com/BaSui01/agentnet/governor"
	"github.com/BaSui01/agentnet/registry"
	"github.com/BaSui01/agentnet/types"
)

// Options configures a Store.
type Options struct {
	// Driver selects the backend. Only sqlite is supported.
	Driver string
	// DSN is the connection string; ":memory:" works for tests.
	DSN string
	// MaxOpenConns caps open connections. Zero keeps the driver default.
	MaxOpenConns int
	// MaxIdleConns caps idle connections. Zero keeps the driver default.
	MaxIdleConns int
	// ConnMaxLifetime bounds a connection's lifetime. Zero disables it.
	ConnMaxLifetime time.Duration
}

// Store is the GORM-backed durability layer.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the database, applies pool limits, and migrates the
// schema.
func Open(opts Options, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch opts.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite)", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(
		&AgentModel{},
		&SessionModel{},
		&AllocationModel{},
		&UsageRecordModel{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	logger.Info("storage opened", zap.String("driver", "sqlite"))
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "storage")),
	}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the connection pool is alive.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// SaveAgent upserts the persisted form of a registry record.
func (s *Store) SaveAgent(ctx context.Context, record *registry.AgentRecord) error {
	model := &AgentModel{
		AgentID:       record.AgentID,
		AgentType:     record.AgentType,
		Capabilities:  marshalJSON(record.Capabilities),
		Region:        record.Region,
		Status:        string(record.Status),
		LastHeartbeat: record.LastHeartbeat,
		RegisteredAt:  record.RegisteredAt,
		Metadata:      marshalJSON(record.Metadata),
	}
	return s.db.WithContext(ctx).Save(model).Error
}

// DeleteAgent removes a persisted agent.
func (s *Store) DeleteAgent(ctx context.Context, agentID string) error {
	return s.db.WithContext(ctx).Delete(&AgentModel{}, "agent_id = ?", agentID).Error
}

// ListAgents returns all persisted agent records.
func (s *Store) ListAgents(ctx context.Context) ([]*registry.AgentRecord, error) {
	var models []AgentModel
	if err := s.db.WithContext(ctx).Order("agent_id").Find(&models).Error; err != nil {
		return nil, err
	}

	records := make([]*registry.AgentRecord, 0, len(models))
	for _, m := range models {
		record := &registry.AgentRecord{
			AgentID:       m.AgentID,
			AgentType:     m.AgentType,
			Region:        m.Region,
			Status:        registry.AgentStatus(m.Status),
			LastHeartbeat: m.LastHeartbeat,
			RegisteredAt:  m.RegisteredAt,
		}
		if err := unmarshalJSON(m.Capabilities, &record.Capabilities); err != nil {
			return nil, fmt.Errorf("corrupt capabilities for agent %s: %w", m.AgentID, err)
		}
		if err := unmarshalJSON(m.Metadata, &record.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt metadata for agent %s: %w", m.AgentID, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// SaveSession upserts the persisted form of a coordination session.
func (s *Store) SaveSession(ctx context.Context, session *coordination.CoordinationSession) error {
	model := &SessionModel{
		CoordinationID: session.CoordinationID,
		Pattern:        string(session.Pattern),
		Goal:           session.Goal,
		CoordinatorID:  session.CoordinatorID,
		Status:         string(session.Status),
		Participants:   marshalJSON(session.Participants),
		Tasks:          marshalJSON(session.Tasks),
		SharedState:    marshalJSON(session.SharedState),
		CreatedAt:      session.CreatedAt,
	}
	return s.db.WithContext(ctx).Save(model).Error
}

// GetSession loads one persisted session.
func (s *Store) GetSession(ctx context.Context, coordinationID string) (*coordination.CoordinationSession, error) {
	var model SessionModel
	err := s.db.WithContext(ctx).First(&model, "coordination_id = ?", coordinationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewErrorf(types.ErrNotFound, "session %s not found", coordinationID)
	}
	if err != nil {
		return nil, err
	}

	session := &coordination.CoordinationSession{
		CoordinationID: model.CoordinationID,
		Pattern:        coordination.Pattern(model.Pattern),
		Goal:           model.Goal,
		CoordinatorID:  model.CoordinatorID,
		Status:         coordination.SessionStatus(model.Status),
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
	}
	if err := unmarshalJSON(model.Participants, &session.Participants); err != nil {
		return nil, fmt.Errorf("corrupt participants for session %s: %w", coordinationID, err)
	}
	if err := unmarshalJSON(model.Tasks, &session.Tasks); err != nil {
		return nil, fmt.Errorf("corrupt tasks for session %s: %w", coordinationID, err)
	}
	if err := unmarshalJSON(model.SharedState, &session.SharedState); err != nil {
		return nil, fmt.Errorf("corrupt shared state for session %s: %w", coordinationID, err)
	}
	return session, nil
}

// SaveAllocation upserts the persisted form of a resource allocation.
func (s *Store) SaveAllocation(ctx context.Context, alloc *governor.ResourceAllocation) error {
	model := &AllocationModel{
		AllocationID: alloc.AllocationID,
		AgentID:      alloc.AgentID,
		Quotas:       marshalJSON(alloc.Quotas),
		Usage:        marshalJSON(alloc.Usage),
		Priority:     alloc.Priority,
		Status:       string(alloc.Status),
		AllocatedAt:  alloc.AllocatedAt,
		ExpiresAt:    alloc.ExpiresAt,
		RevokeReason: alloc.RevokeReason,
	}
	return s.db.WithContext(ctx).Save(model).Error
}

// GetAllocation loads the most recent persisted allocation for an agent.
func (s *Store) GetAllocation(ctx context.Context, agentID string) (*governor.ResourceAllocation, error) {
	var model AllocationModel
	err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("allocated_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewErrorf(types.ErrNotFound, "no allocation for agent %s", agentID)
	}
	if err != nil {
		return nil, err
	}

	alloc := &governor.ResourceAllocation{
		AllocationID: model.AllocationID,
		AgentID:      model.AgentID,
		Priority:     model.Priority,
		Status:       governor.AllocationStatus(model.Status),
		AllocatedAt:  model.AllocatedAt,
		ExpiresAt:    model.ExpiresAt,
		RevokeReason: model.RevokeReason,
	}
	if err := unmarshalJSON(model.Quotas, &alloc.Quotas); err != nil {
		return nil, fmt.Errorf("corrupt quotas for allocation %s: %w", model.AllocationID, err)
	}
	if err := unmarshalJSON(model.Usage, &alloc.Usage); err != nil {
		return nil, fmt.Errorf("corrupt usage for allocation %s: %w", model.AllocationID, err)
	}
	return alloc, nil
}

// AppendUsage inserts one audit row. Implements governor.UsageSink.
func (s *Store) AppendUsage(ctx context.Context, record *governor.ResourceUsageRecord) error {
	model := &UsageRecordModel{
		RecordID:     record.RecordID,
		AgentID:      record.AgentID,
		AllocationID: record.AllocationID,
		TaskID:       record.TaskID,
		Deltas:       marshalJSON(record.Deltas),
		Metadata:     marshalJSON(record.Metadata),
		Timestamp:    record.Timestamp,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

// UsageRecords returns the newest limit audit rows for an agent, oldest
// first. limit <= 0 returns all rows.
func (s *Store) UsageRecords(ctx context.Context, agentID string, limit int) ([]*governor.ResourceUsageRecord, error) {
	query := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("timestamp DESC, record_id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []UsageRecordModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	records := make([]*governor.ResourceUsageRecord, len(models))
	for i, m := range models {
		record := &governor.ResourceUsageRecord{
			RecordID:     m.RecordID,
			AgentID:      m.AgentID,
			AllocationID: m.AllocationID,
			TaskID:       m.TaskID,
			Timestamp:    m.Timestamp,
		}
		if err := unmarshalJSON(m.Deltas, &record.Deltas); err != nil {
			return nil, fmt.Errorf("corrupt deltas for record %s: %w", m.RecordID, err)
		}
		if err := unmarshalJSON(m.Metadata, &record.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt metadata for record %s: %w", m.RecordID, err)
		}
		// Reverse to oldest-first.
		records[len(models)-1-i] = record
	}
	return records, nil
}

// ReplayAgents re-registers every persisted agent into the registry. Agents
// come back with fresh heartbeats; the liveness sweep re-establishes the
// truth once they start heartbeating again.
func (s *Store) ReplayAgents(ctx context.Context, reg *registry.NetworkRegistry) (int, error) {
	records, err := s.ListAgents(ctx)
	if err != nil {
		return 0, err
	}
	for _, record := range records {
		if _, err := reg.Register(ctx, registry.RegisterRequest{
			AgentID:      record.AgentID,
			AgentType:    record.AgentType,
			Capabilities: record.Capabilities,
			Region:       record.Region,
			Metadata:     record.Metadata,
		}); err != nil {
			return 0, fmt.Errorf("failed to replay agent %s: %w", record.AgentID, err)
		}
	}
	if len(records) > 0 {
		s.logger.Info("replayed persisted agents", zap.Int("count", len(records)))
	}
	return len(records), nil
}
