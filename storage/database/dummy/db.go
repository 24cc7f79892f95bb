package dummydb

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core/profile"
)

type (
	// DB is an in-memory profile store, for development and tests.
	DB struct {
		sync.RWMutex
		collections map[string]map[string]profile.Profile // {collection: {id: profile}}
	}
)

func Open() (*DB, error) {
	db := &DB{collections: make(map[string]map[string]profile.Profile, len(profile.Collections))}
	for _, c := range profile.Collections {
		db.collections[c] = make(map[string]profile.Profile)
	}
	return db, nil
}

// Put inserts or replaces profiles in their collection.
// Nothing is stored if any profile belongs to an unknown collection.
func (db *DB) Put(profiles ...profile.Profile) error {
	db.Lock()
	defer db.Unlock()
	for _, p := range profiles {
		if _, ok := db.collections[p.Collection]; !ok {
			return errors.Wrapf(profile.ErrUnknownCollection, "%s/%s", p.Collection, p.ID)
		}
	}
	for _, p := range profiles {
		db.collections[p.Collection][p.ID] = p
	}
	return nil
}

// Reset empties every collection.
func (db *DB) Reset() {
	db.Lock()
	defer db.Unlock()
	for c := range db.collections {
		db.collections[c] = make(map[string]profile.Profile)
	}
}
