package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pysugar/hubspot-bridge/internal/db/models"
	"github.com/pysugar/hubspot-bridge/internal/errs"
	"gorm.io/gorm"
)

// Repository persists feeds with gorm.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a Repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create stores a new feed and fills its ID and timestamps.
func (r *Repository) Create(ctx context.Context, f *Feed) error {
	row, err := toModel(f)
	if err != nil {
		return errs.Wrap(errs.Validation, "feeds.Create", err)
	}
	row.ID = 0
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errs.Wrap(errs.Unknown, "feeds.Create", err)
	}
	f.ID, f.CreatedAt, f.UpdatedAt = row.ID, row.CreatedAt, row.UpdatedAt
	return nil
}

// Get loads one feed.
func (r *Repository) Get(ctx context.Context, id uint) (*Feed, error) {
	var row models.Feed
	err := r.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.E(errs.NotFound, "feeds.Get", fmt.Sprintf("feed %d not found", id))
	}
	if err != nil {
		return nil, errs.Wrap(errs.Unknown, "feeds.Get", err)
	}
	return fromModel(row)
}

// List returns every feed ordered by ID.
func (r *Repository) List(ctx context.Context) ([]*Feed, error) {
	return r.find(ctx, r.db.WithContext(ctx).Order("id"))
}

// ListByForm returns the feeds of one form ordered by ID.
func (r *Repository) ListByForm(ctx context.Context, formID int) ([]*Feed, error) {
	return r.find(ctx, r.db.WithContext(ctx).Where("form_id = ?", formID).Order("id"))
}

func (r *Repository) find(ctx context.Context, q *gorm.DB) ([]*Feed, error) {
	var rows []models.Feed
	if err := q.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(errs.Unknown, "feeds.List", err)
	}
	out := make([]*Feed, 0, len(rows))
	for _, row := range rows {
		f, err := fromModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Update overwrites the stored feed with f.
func (r *Repository) Update(ctx context.Context, f *Feed) error {
	row, err := toModel(f)
	if err != nil {
		return errs.Wrap(errs.Validation, "feeds.Update", err)
	}
	row.UpdatedAt = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.Feed{}).Where("id = ?", f.ID).
		Select("*").Omit("id", "created_at").Updates(&row)
	if res.Error != nil {
		return errs.Wrap(errs.Unknown, "feeds.Update", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.E(errs.NotFound, "feeds.Update", fmt.Sprintf("feed %d not found", f.ID))
	}
	f.UpdatedAt = row.UpdatedAt
	return nil
}

// UpdateRemote records the remote form a feed is mirrored to. resetOwner
// also sets owner assignment back to none, since owners do not carry over
// between remote accounts.
func (r *Repository) UpdateRemote(ctx context.Context, id uint, name, guid, accountID string, resetOwner bool) error {
	updates := map[string]any{
		"remote_form_name":  name,
		"remote_form_guid":  guid,
		"remote_account_id": accountID,
	}
	if resetOwner {
		raw, _ := json.Marshal(OwnerRule{Mode: OwnerNone})
		updates["owner"] = string(raw)
	}
	res := r.db.WithContext(ctx).Model(&models.Feed{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return errs.Wrap(errs.Unknown, "feeds.UpdateRemote", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.E(errs.NotFound, "feeds.UpdateRemote", fmt.Sprintf("feed %d not found", id))
	}
	return nil
}

// Delete removes a feed. Deleting a missing feed is not an error.
func (r *Repository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&models.Feed{}, id).Error; err != nil {
		return errs.Wrap(errs.Unknown, "feeds.Delete", err)
	}
	return nil
}

func toModel(f *Feed) (models.Feed, error) {
	mappings, err := json.Marshal(nonNil(f.Mappings))
	if err != nil {
		return models.Feed{}, err
	}
	additional, err := json.Marshal(nonNil(f.Additional))
	if err != nil {
		return models.Feed{}, err
	}
	owner := f.Owner
	if owner.Mode == "" {
		owner.Mode = OwnerNone
	}
	ownerRaw, err := json.Marshal(owner)
	if err != nil {
		return models.Feed{}, err
	}
	cond, err := json.Marshal(f.Condition)
	if err != nil {
		return models.Feed{}, err
	}
	return models.Feed{
		ID:              f.ID,
		FormID:          f.FormID,
		Name:            f.Name,
		IsActive:        f.IsActive,
		RemoteFormName:  f.RemoteFormName,
		RemoteFormGUID:  f.RemoteFormGUID,
		RemoteAccountID: f.RemoteAccountID,
		Mappings:        string(mappings),
		Additional:      string(additional),
		Owner:           string(ownerRaw),
		Condition:       string(cond),
		CreatedAt:       f.CreatedAt,
	}, nil
}

func fromModel(row models.Feed) (*Feed, error) {
	f := &Feed{
		ID:              row.ID,
		FormID:          row.FormID,
		Name:            row.Name,
		IsActive:        row.IsActive,
		RemoteFormName:  row.RemoteFormName,
		RemoteFormGUID:  row.RemoteFormGUID,
		RemoteAccountID: row.RemoteAccountID,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	for _, part := range []struct {
		raw string
		dst any
	}{
		{row.Mappings, &f.Mappings},
		{row.Additional, &f.Additional},
		{row.Owner, &f.Owner},
		{row.Condition, &f.Condition},
	} {
		if part.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(part.raw), part.dst); err != nil {
			return nil, errs.Wrap(errs.Unknown, "feeds.decode", fmt.Errorf("feed %d: %w", row.ID, err))
		}
	}
	if f.Owner.Mode == "" {
		f.Owner.Mode = OwnerNone
	}
	return f, nil
}

func nonNil(m []Mapping) []Mapping {
	if m == nil {
		return []Mapping{}
	}
	return m
}
