package testutil

import (
	"testing"
	"time"

	"github.com/trezcool/masomo-portal/core/profile"
	dummydb "github.com/trezcool/masomo-portal/storage/database/dummy"
)

// Fixture principals. GuestPrincipal has no profile.
var (
	AdminPrincipal   = profile.Principal{ID: "uid-admin", Email: "head@school.org"}
	FacultyPrincipal = profile.Principal{ID: "uid-faculty", Email: "a@school.org"}
	ParentPrincipal  = profile.Principal{ID: "uid-parent", Email: "parent@school.org"}
	StudentPrincipal = profile.Principal{ID: "uid-student", Email: "pupil@school.org"}
	GuestPrincipal   = profile.Principal{ID: "uid-guest", Email: "visitor@school.org"}
)

// Profiles returns the fixture documents: current and legacy layouts across every collection.
func Profiles() []profile.Profile {
	now := time.Now().UTC()
	return []profile.Profile{
		{ID: "A1", Collection: profile.CollectionAdmins, UpdatedAt: now, Data: map[string]interface{}{
			"personalInfo": map[string]interface{}{"email": AdminPrincipal.Email, "role": "Admin"},
		}},
		{ID: "T100", Collection: profile.CollectionFaculty, UpdatedAt: now, Data: map[string]interface{}{
			"personalInfo": map[string]interface{}{"email": FacultyPrincipal.Email, "role": "Faculty"},
		}},
		{ID: "U1", Collection: profile.CollectionUsers, UpdatedAt: now, Data: map[string]interface{}{
			"contactInfo": map[string]interface{}{"email": ParentPrincipal.Email},
			"role":        "Parent",
		}},
		// legacy record keyed by the principal ID
		{ID: StudentPrincipal.ID, Collection: profile.CollectionUsers, UpdatedAt: now, Data: map[string]interface{}{
			"personalInfo": map[string]interface{}{"role": "STUDENT"},
		}},
	}
}

// PrepareDB returns an in-memory store seeded with Profiles.
func PrepareDB(t *testing.T) *dummydb.DB {
	t.Helper()
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	if err = db.Put(Profiles()...); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

// NewResolver returns a resolver over a freshly seeded store, with the default strategies.
func NewResolver(t *testing.T) *profile.Resolver {
	t.Helper()
	cache, err := profile.NewCache(profile.DefaultCacheSize, profile.DefaultCacheTTL)
	if err != nil {
		t.Fatalf("NewResolver() failed: %v", err)
	}
	return profile.NewResolver(cache, profile.DefaultStrategies(dummydb.NewProfileRepository(PrepareDB(t))))
}
