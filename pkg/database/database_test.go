package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/huandu/go-sqlbuilder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONBScan(t *testing.T) {
	tests := []struct {
		name    string
		src     any
		want    map[string]string
		wantErr bool
	}{
		{name: "bytes", src: []byte(`{"a":"1"}`), want: map[string]string{"a": "1"}},
		{name: "string", src: `{"b":"2"}`, want: map[string]string{"b": "2"}},
		{name: "null", src: nil, want: nil},
		{name: "wrong type", src: 42, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var j JSONB[map[string]string]
			err := j.Scan(tt.src)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, j.Data)
		})
	}
}

func TestJSONBValue(t *testing.T) {
	v, err := NewJSONB([]string{"x", "y"}).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte(`["x","y"]`), v)
}

func TestOnConflictUpdate(t *testing.T) {
	ib := NewInsertBuilder()
	ib.InsertInto("records").Cols("dataset_id", "unique_id", "attributes").Values("d", "u", "{}")
	OnConflictUpdate(ib, []string{"dataset_id", "unique_id"}, "attributes")

	query, args := ib.BuildWithFlavor(sqlbuilder.PostgreSQL)
	assert.Equal(t, "INSERT INTO records (dataset_id, unique_id, attributes) VALUES ($1, $2, $3) ON CONFLICT (dataset_id, unique_id) DO UPDATE SET attributes = EXCLUDED.attributes", query)
	assert.Len(t, args, 3)
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5433, User: "u", Password: "p", Name: "clover", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=clover sslmode=disable", cfg.DSN())
}

func TestLatestVersion(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"000001_init.up.sql", "000001_init.down.sql", "000003_wishes.up.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o600))
	}

	v, err := latestVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	_, err = latestVersion(t.TempDir())
	assert.Error(t, err)
}

func TestBatches(t *testing.T) {
	tests := []struct {
		name  string
		items []int
		size  int
		want  [][]int
	}{
		{name: "empty", items: nil, size: 2, want: nil},
		{name: "exact", items: []int{1, 2, 3, 4}, size: 2, want: [][]int{{1, 2}, {3, 4}}},
		{name: "remainder", items: []int{1, 2, 3}, size: 2, want: [][]int{{1, 2}, {3}}},
		{name: "no size", items: []int{1, 2, 3}, size: 0, want: [][]int{{1, 2, 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Batches(tt.items, tt.size))
		})
	}
}
