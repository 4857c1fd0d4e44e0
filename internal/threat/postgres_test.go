package threat

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeRow struct {
	values []string
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]string)) = r.values
	return nil
}

type fakeQuerier struct {
	row fakeRow
}

func (q fakeQuerier) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return q.row
}

func TestPostgresBaseline_noRowUsesDefaults(t *testing.T) {
	b := NewPostgresBaseline(fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}, []string{"US", "CA"})

	geos, err := b.AllowedGeo(ctx, "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(geos, []string{"US", "CA"}) {
		t.Errorf("got %v", geos)
	}

	anomalous, err := b.IsAnomalous(ctx, "ghost", map[string]string{"action": "DeleteBucket"})
	if err != nil || anomalous {
		t.Errorf("no baseline row: got (%v, %v), want (false, nil)", anomalous, err)
	}
}

func TestPostgresBaseline_row(t *testing.T) {
	b := NewPostgresBaseline(fakeQuerier{row: fakeRow{values: []string{"GetObject", "ListBuckets"}}}, nil)

	anomalous, err := b.IsAnomalous(ctx, "bob", map[string]string{"action": "DeleteBucket"})
	if err != nil {
		t.Fatal(err)
	}
	if !anomalous {
		t.Error("DeleteBucket is outside bob's normal actions")
	}
}

func TestPostgresBaseline_queryError(t *testing.T) {
	b := NewPostgresBaseline(fakeQuerier{row: fakeRow{err: errors.New("conn reset")}}, nil)
	if _, err := b.AllowedGeo(ctx, "bob"); err == nil {
		t.Fatal("expected query error to surface")
	}
}
