package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/rpc"
	"github.com/dmitrijs2005/ledgersync/internal/server/config"
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

var entityTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

var emptyPayload = json.RawMessage(`{}`)

// SyncService serves pulls and pushes against the per-user record log.
type SyncService struct {
	repomanager  repomanager.RepositoryManager
	maxPushBatch int
	now          func() time.Time
	log          logging.Logger
}

func NewSyncService(m repomanager.RepositoryManager, cfg *config.Config, log logging.Logger) *SyncService {
	limit := cfg.MaxPushBatch
	if limit <= 0 {
		limit = common.MaxPushBatch
	}
	return &SyncService{
		repomanager:  m,
		maxPushBatch: limit,
		now:          time.Now,
		log:          log.With("module", "sync"),
	}
}

func validEntityType(entityType string) error {
	if !entityTypePattern.MatchString(entityType) {
		return fmt.Errorf("%w: bad entity type %q", common.ErrorValidation, entityType)
	}
	return nil
}

// Pull returns the records changed after since, read in one snapshot
// together with the clock value reported as ServerTime.
func (s *SyncService) Pull(ctx context.Context, userID, entityType string, since int64) (*models.PullBatch, error) {
	if err := validEntityType(entityType); err != nil {
		return nil, err
	}

	batch := &models.PullBatch{}
	err := s.repomanager.WithTx(ctx, dbx.ReadSnapshot, func(ctx context.Context, r repomanager.Repos) error {
		clock, err := r.Users().Clock(ctx, userID)
		if err != nil {
			return err
		}
		batch.ServerTime = clock
		if since >= clock {
			return nil
		}
		batch.Records, err = r.Records().SelectSince(ctx, userID, entityType, since, clock)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("pull: %w", err)
	}
	return batch, nil
}

// Push applies a batch in one transaction. Each item is accepted or
// rejected on its own; only storage failures fail the whole call.
func (s *SyncService) Push(ctx context.Context, userID, deviceID, entityType string, items []models.PushItem) (*models.PushOutcome, error) {
	if err := validEntityType(entityType); err != nil {
		return nil, err
	}
	if len(items) > s.maxPushBatch {
		return nil, fmt.Errorf("%w: batch of %d exceeds limit %d", common.ErrorValidation, len(items), s.maxPushBatch)
	}

	var out models.PushOutcome
	err := s.repomanager.WithTx(ctx, nil, func(ctx context.Context, r repomanager.Repos) error {
		out = models.PushOutcome{}
		for _, item := range items {
			acc, rej, err := s.apply(ctx, r, userID, deviceID, entityType, item)
			if err != nil {
				return err
			}
			if rej.Reason != "" {
				rej.LocalID = item.LocalID
				out.Rejected = append(out.Rejected, rej)
				continue
			}
			out.Accepted = append(out.Accepted, acc)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errUnknownUser) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("push: %w", err)
	}

	s.log.Debug(ctx, "push applied", "user_id", userID, "entity", entityType,
		"accepted", len(out.Accepted), "rejected", len(out.Rejected))
	return &out, nil
}

var errUnknownUser = errors.New("unknown user")

func (s *SyncService) tick(ctx context.Context, r repomanager.Repos, userID string) (int64, error) {
	clock, err := r.Users().Tick(ctx, userID, s.now().UnixMicro())
	if errors.Is(err, common.ErrorNotFound) {
		return 0, errUnknownUser
	}
	return clock, err
}

func rejected(reason string) models.Rejected {
	return models.Rejected{Reason: reason}
}

// apply stores one item. A non-empty rej.Reason means the item was rejected.
func (s *SyncService) apply(ctx context.Context, r repomanager.Repos, userID, deviceID, entityType string, item models.PushItem) (acc models.Accepted, rej models.Rejected, err error) {
	payload := item.Payload
	if len(payload) == 0 {
		if !item.Deleted {
			return acc, rejected(rpc.ReasonInvalid), nil
		}
		payload = emptyPayload
	}
	if !json.Valid(payload) {
		return acc, rejected(rpc.ReasonInvalid), nil
	}

	if item.RemoteID == "" {
		return s.create(ctx, r, userID, deviceID, entityType, item, payload)
	}

	if _, err := uuid.Parse(item.RemoteID); err != nil {
		return acc, rejected(rpc.ReasonNotFound), nil
	}
	stored, err := r.Records().Get(ctx, userID, entityType, item.RemoteID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return acc, rejected(rpc.ReasonNotFound), nil
		}
		return acc, rej, err
	}
	if item.BaseUpdatedAt < stored.UpdatedAt {
		return acc, rejected(rpc.ReasonConflict), nil
	}
	acc, err = s.overwrite(ctx, r, stored, item, payload)
	return acc, rej, err
}

func (s *SyncService) create(ctx context.Context, r repomanager.Repos, userID, deviceID, entityType string, item models.PushItem, payload json.RawMessage) (acc models.Accepted, rej models.Rejected, err error) {
	var origin string
	if deviceID != "" {
		origin = deviceID + "/" + strconv.FormatInt(item.LocalID, 10)

		// The device already created this record and lost the response. The
		// stored copy may have been edited since, so the repeat never
		// overwrites it; the device gets the id back and reconciles.
		stored, err := r.Records().GetByOrigin(ctx, userID, entityType, origin)
		if err == nil {
			return acc, models.Rejected{
				Reason:    rpc.ReasonConflict,
				RemoteID:  stored.ID,
				UpdatedAt: stored.UpdatedAt,
			}, nil
		}
		if !errors.Is(err, common.ErrorNotFound) {
			return acc, rej, err
		}
	}

	clock, err := s.tick(ctx, r, userID)
	if err != nil {
		return acc, rej, err
	}
	rec := &models.SyncRecord{
		ID:         uuid.NewString(),
		UserID:     userID,
		EntityType: entityType,
		Origin:     origin,
		Payload:    payload,
		UpdatedAt:  clock,
		Deleted:    item.Deleted,
	}
	if err := r.Records().Insert(ctx, rec); err != nil {
		return acc, rej, err
	}
	return models.Accepted{LocalID: item.LocalID, RemoteID: rec.ID, UpdatedAt: clock}, rej, nil
}

func (s *SyncService) overwrite(ctx context.Context, r repomanager.Repos, stored *models.SyncRecord, item models.PushItem, payload json.RawMessage) (models.Accepted, error) {
	clock, err := s.tick(ctx, r, stored.UserID)
	if err != nil {
		return models.Accepted{}, err
	}
	stored.Payload = payload
	stored.Deleted = item.Deleted
	stored.UpdatedAt = clock
	if err := r.Records().Update(ctx, stored); err != nil {
		return models.Accepted{}, err
	}
	return models.Accepted{LocalID: item.LocalID, RemoteID: stored.ID, UpdatedAt: clock}, nil
}
