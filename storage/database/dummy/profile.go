package dummydb

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core/profile"
)

type profileRepository struct {
	db *DB
}

var _ profile.Repository = (*profileRepository)(nil) // interface compliance check

func NewProfileRepository(db *DB) profile.Repository {
	return &profileRepository{db: db}
}

func (repo *profileRepository) table(collection string) (map[string]profile.Profile, error) {
	table, ok := repo.db.collections[collection]
	if !ok {
		return nil, errors.Wrap(profile.ErrUnknownCollection, collection)
	}
	return table, nil
}

func (repo *profileRepository) FindOneByField(ctx context.Context, collection, fieldPath, value string) (profile.Profile, error) {
	if err := ctx.Err(); err != nil {
		return profile.Profile{}, err
	}
	repo.db.RLock()
	defer repo.db.RUnlock()

	table, err := repo.table(collection)
	if err != nil {
		return profile.Profile{}, err
	}

	// sorted keys give a stable "first" match
	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := table[id]
		if v, ok := profile.LookupPath(p.Data, fieldPath); ok && v == value {
			return p, nil
		}
	}
	return profile.Profile{}, profile.ErrNotFound
}

func (repo *profileRepository) GetByKey(ctx context.Context, collection, key string) (profile.Profile, error) {
	if err := ctx.Err(); err != nil {
		return profile.Profile{}, err
	}
	repo.db.RLock()
	defer repo.db.RUnlock()

	table, err := repo.table(collection)
	if err != nil {
		return profile.Profile{}, err
	}
	if p, ok := table[key]; ok {
		return p, nil
	}
	return profile.Profile{}, profile.ErrNotFound
}
