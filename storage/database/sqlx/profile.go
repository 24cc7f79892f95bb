package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/profile"
)

// collection name -> table name
var tables = map[string]string{
	profile.CollectionUsers:   "users",
	profile.CollectionFaculty: "faculty",
	profile.CollectionAdmins:  "admins",
}

type profileRow struct {
	ID        string         `db:"id"`
	Data      types.JSONText `db:"data"`
	UpdatedAt null.Time      `db:"updated_at"`
}

func (row profileRow) toProfile(collection string) (profile.Profile, error) {
	p := profile.Profile{ID: row.ID, Collection: collection}
	if err := row.Data.Unmarshal(&p.Data); err != nil {
		return profile.Profile{}, errors.Wrapf(err, "decoding %s/%s", collection, row.ID)
	}
	if row.UpdatedAt.Valid {
		p.UpdatedAt = row.UpdatedAt.Time
	}
	return p, nil
}

type profileRepository struct {
	db core.DBExecutor
}

var _ profile.Repository = (*profileRepository)(nil) // interface compliance check

func NewProfileRepository(db core.DBExecutor) *profileRepository {
	return &profileRepository{db: db}
}

func table(collection string) (string, error) {
	t, ok := tables[collection]
	if !ok {
		return "", errors.Wrap(profile.ErrUnknownCollection, collection)
	}
	return t, nil
}

func (repo profileRepository) get(ctx context.Context, collection, query string, args ...interface{}) (profile.Profile, error) {
	var row profileRow
	if err := repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return profile.Profile{}, profile.ErrNotFound
		}
		return profile.Profile{}, errors.Wrapf(err, "querying %s", collection)
	}
	return row.toProfile(collection)
}

func (repo profileRepository) FindOneByField(ctx context.Context, collection, fieldPath, value string) (profile.Profile, error) {
	t, err := table(collection)
	if err != nil {
		return profile.Profile{}, err
	}
	q := fmt.Sprintf("SELECT id, data, updated_at FROM %s WHERE data #>> $1 = $2 LIMIT 1", t)
	return repo.get(ctx, collection, q, pq.Array(strings.Split(fieldPath, ".")), value)
}

func (repo profileRepository) GetByKey(ctx context.Context, collection, key string) (profile.Profile, error) {
	t, err := table(collection)
	if err != nil {
		return profile.Profile{}, err
	}
	q := fmt.Sprintf("SELECT id, data, updated_at FROM %s WHERE id = $1", t)
	return repo.get(ctx, collection, q, key)
}

// Put inserts or replaces a profile document.
func Put(ctx context.Context, db sqlx.ExecerContext, p profile.Profile) error {
	t, err := table(p.Collection)
	if err != nil {
		return err
	}
	data, err := json.Marshal(p.Data)
	if err != nil {
		return errors.Wrapf(err, "encoding %s/%s", p.Collection, p.ID)
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, data, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`, t)
	if _, err = db.ExecContext(ctx, q, p.ID, types.JSONText(data), time.Now().UTC()); err != nil {
		return errors.Wrapf(err, "saving %s/%s", p.Collection, p.ID)
	}
	return nil
}
