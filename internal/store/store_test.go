package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/claim-engine/internal/identity"
	"github.com/pdiddy/claim-engine/pkg/types"
)

// --- test helpers ---

func testStore(t *testing.T) *Store {
	t.Helper()
	cfg := types.StoreConfig{
		Driver: types.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "data", "claims.db"),
	}
	s, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testProject(t *testing.T, s *Store) types.Project {
	t.Helper()
	p, err := s.CreateProject(context.Background(), "Literature review", "")
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func intp(n int) *int { return &n }

// upsert runs one UpsertReferenceIfAbsent in its own transaction.
func upsert(t *testing.T, s *Store, ref types.ReferenceDraft) (int64, bool) {
	t.Helper()
	var (
		id      int64
		created bool
	)
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		var err error
		id, created, err = tx.UpsertReferenceIfAbsent(context.Background(), ref, identity.KeyOf(ref))
		return err
	})
	require.NoError(t, err)
	return id, created
}

// --- Open / schema ---

func TestOpenCreatesSchema(t *testing.T) {
	s := testStore(t)

	for _, table := range []string{"projects", "refs", "claims", "claim_refs", "extraction_batches", "batch_refs"} {
		var name string
		err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}
	assert.Equal(t, types.DriverSQLite, s.Driver())
	assert.NoError(t, s.Ping(context.Background()))
}

func TestOpenIsIdempotent(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "claims.db")
	cfg := types.StoreConfig{Driver: types.DriverSQLite, DSN: dsn}

	s1, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	_, err = s1.CreateProject(context.Background(), "p", "")
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, 1, countRows(t, s2, "projects"))
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open(context.Background(), types.StoreConfig{Driver: "mysql", DSN: "x"}, nil)
	assert.Error(t, err)
	_, err = Open(context.Background(), types.StoreConfig{Driver: types.DriverSQLite}, nil)
	assert.Error(t, err)
	_, err = Open(context.Background(), types.StoreConfig{Driver: types.DriverPostgres}, nil)
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	q := `SELECT id FROM refs WHERE doi_key = ? AND title_key = ? LIMIT ?`
	assert.Equal(t, q, rebind(types.DriverSQLite, q))
	assert.Equal(t, `SELECT id FROM refs WHERE doi_key = $1 AND title_key = $2 LIMIT $3`, rebind(types.DriverPostgres, q))
}

func TestPostgresSchemaHasNoSQLiteTypes(t *testing.T) {
	r := dialectTypes[types.DriverPostgres]
	for _, stmt := range schemaStatements {
		out := r.Replace(stmt)
		assert.NotContains(t, out, "AUTOINCREMENT")
		assert.NotContains(t, out, "{{")
	}
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, true},
		{"sqlite wrapped", fmt.Errorf("insert: %w", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}), true},
		{"sqlite foreign key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, false},
		{"postgres unique", &pgconn.PgError{Code: "23505"}, true},
		{"postgres wrapped", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"postgres fk", &pgconn.PgError{Code: "23503"}, false},
		{"other", errors.New("unique"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}

// --- projects ---

func TestProjects(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, "  Review  ", "notes")
	require.NoError(t, err)
	assert.Equal(t, "Review", p.Name)
	assert.Equal(t, "draft", p.Status)
	assert.Positive(t, p.ID)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, "notes", got.Description)

	_, err = s.GetProject(ctx, p.ID+100)
	assert.ErrorIs(t, err, types.ErrNotFound)

	ok, err := s.ProjectExists(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ProjectExists(ctx, 9999)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.CreateProject(ctx, " ", "")
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = s.CreateProject(ctx, "Second", "")
	require.NoError(t, err)
	list, err := s.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Review", list[0].Name)
	assert.Equal(t, "Second", list[1].Name)
}

// --- references ---

func TestUpsertReferenceByDOI(t *testing.T) {
	s := testStore(t)
	ref := types.ReferenceDraft{Title: "Accuracy", Authors: "Smith, J.", Year: intp(2023), DOI: "10.1/x"}

	id1, created := upsert(t, s, ref)
	assert.True(t, created)

	ref.DOI = "10.1/X"
	ref.Title = "A different title"
	id2, created := upsert(t, s, ref)
	assert.False(t, created)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, countRows(t, s, "refs"))

	found, ok, err := s.ReferenceByDOI(context.Background(), "10.1/x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id1, found)
}

func TestUpsertReferenceByTitleKey(t *testing.T) {
	s := testStore(t)

	id1, created := upsert(t, s, types.ReferenceDraft{Title: "Deep Learning", Authors: "Lee, A."})
	assert.True(t, created)
	id2, created := upsert(t, s, types.ReferenceDraft{Title: "deep learning ", Authors: "LEE"})
	assert.False(t, created)
	assert.Equal(t, id1, id2)

	found, ok, err := s.ReferenceByTitleKey(context.Background(), identity.TitleKey("Deep Learning", "Lee"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id1, found)
}

func TestUpsertReferenceWithoutIdentityAlwaysCreates(t *testing.T) {
	s := testStore(t)
	id1, c1 := upsert(t, s, types.ReferenceDraft{Title: "???"})
	id2, c2 := upsert(t, s, types.ReferenceDraft{Title: "???"})
	assert.True(t, c1)
	assert.True(t, c2)
	assert.NotEqual(t, id1, id2)
}

func TestTxSeesOwnWrites(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	ref := types.ReferenceDraft{Title: "T", DOI: "10.2/abc"}

	err := s.WithTx(ctx, func(tx *Tx) error {
		id, _, err := tx.UpsertReferenceIfAbsent(ctx, ref, identity.KeyOf(ref))
		if err != nil {
			return err
		}
		found, ok, err := tx.ReferenceByDOI(ctx, "10.2/abc")
		if err != nil {
			return err
		}
		if !ok || found != id {
			return fmt.Errorf("lookup in tx = (%d, %v), want (%d, true)", found, ok, id)
		}
		found, ok, err = tx.ReferenceByTitleKey(ctx, identity.TitleKey("T", ""))
		if err != nil {
			return err
		}
		if !ok || found != id {
			return fmt.Errorf("title lookup in tx = (%d, %v), want (%d, true)", found, ok, id)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestReferencesByIDsKeepsOrder(t *testing.T) {
	s := testStore(t)
	a, _ := upsert(t, s, types.ReferenceDraft{Title: "A", Year: intp(2001), Source: "Nature", URL: "https://a.example"})
	b, _ := upsert(t, s, types.ReferenceDraft{Title: "B", DOI: "10.5/b"})

	refs, err := s.ReferencesByIDs(context.Background(), []int64{b, 9999, a})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "B", refs[0].Title)
	assert.Equal(t, "10.5/b", refs[0].DOI)
	assert.Nil(t, refs[0].Year)
	assert.Equal(t, "A", refs[1].Title)
	require.NotNil(t, refs[1].Year)
	assert.Equal(t, 2001, *refs[1].Year)
	assert.Equal(t, "Nature", refs[1].Source)

	empty, err := s.ReferencesByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// --- claims and links ---

func TestCreateClaimAndLinks(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)
	ctx := context.Background()
	refID, _ := upsert(t, s, types.ReferenceDraft{Title: "R", DOI: "10.3/r"})

	score := 0.8
	note := "supports the claim"
	var claim types.Claim
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		claim, err = tx.CreateClaim(ctx, p.ID, types.ClaimDraft{
			Text: "ML improves accuracy.", PageNumber: intp(3), ParagraphIndex: intp(0),
		}, "batch-1")
		if err != nil {
			return err
		}
		if err := tx.UpsertClaimReferenceLink(ctx, claim.ID, refID, nil, nil); err != nil {
			return err
		}
		return tx.UpsertClaimReferenceLink(ctx, claim.ID, refID, &score, &note)
	})
	require.NoError(t, err)

	assert.Equal(t, types.ClaimFactual, claim.ClaimType)
	assert.Equal(t, types.StatusUnverified, claim.VerificationStatus)
	assert.Equal(t, 1, countRows(t, s, "claim_refs"))

	var (
		gotScore float64
		gotCtx   string
	)
	require.NoError(t, s.db.QueryRow(`SELECT relevance_score, context FROM claim_refs`).Scan(&gotScore, &gotCtx))
	assert.InDelta(t, 0.8, gotScore, 1e-9)
	assert.Equal(t, note, gotCtx)

	// A nil re-link keeps the stored score.
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		return tx.UpsertClaimReferenceLink(ctx, claim.ID, refID, nil, nil)
	}))
	require.NoError(t, s.db.QueryRow(`SELECT relevance_score FROM claim_refs`).Scan(&gotScore))
	assert.InDelta(t, 0.8, gotScore, 1e-9)

	claims, err := s.ClaimsByBatch(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, []int64{refID}, claims[0].ReferenceIDs)
	require.NotNil(t, claims[0].PageNumber)
	assert.Equal(t, 3, *claims[0].PageNumber)
}

func TestLinkRejectsScoreOutOfRange(t *testing.T) {
	s := testStore(t)
	bad := 1.5
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.UpsertClaimReferenceLink(context.Background(), 1, 1, &bad, nil)
	})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestCreateClaimUnknownProjectFails(t *testing.T) {
	s := testStore(t)
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		_, err := tx.CreateClaim(context.Background(), 424242, types.ClaimDraft{Text: "x"}, "")
		return err
	})
	assert.Error(t, err)
	assert.Equal(t, 0, countRows(t, s, "claims"))
}

// --- transactions and batches ---

func TestWithTxRollsBackOnError(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx *Tx) error {
		ref := types.ReferenceDraft{Title: "R", DOI: "10.4/r"}
		refID, _, err := tx.UpsertReferenceIfAbsent(ctx, ref, identity.KeyOf(ref))
		if err != nil {
			return err
		}
		c, err := tx.CreateClaim(ctx, p.ID, types.ClaimDraft{Text: "x"}, "b")
		if err != nil {
			return err
		}
		if err := tx.UpsertClaimReferenceLink(ctx, c.ID, refID, nil, nil); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	for _, table := range []string{"refs", "claims", "claim_refs", "extraction_batches"} {
		assert.Equal(t, 0, countRows(t, s, table), table)
	}
}

func TestWithTxRollsBackOnCancel(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)
	ctx, cancel := context.WithCancel(context.Background())

	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.CreateClaim(ctx, p.ID, types.ClaimDraft{Text: "x"}, ""); err != nil {
			return err
		}
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, countRows(t, s, "claims"))
}

func TestRecordAndFindBatch(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)
	ctx := context.Background()

	r1, _ := upsert(t, s, types.ReferenceDraft{Title: "First", DOI: "10.1/first"})
	r2, _ := upsert(t, s, types.ReferenceDraft{Title: "Second"})

	batch := types.ExtractionBatch{
		ID: "7d9f6c1e-0000-4000-8000-000000000001", ProjectID: p.ID, IdempotencyKey: "doc-1",
		ClaimsCreated: 2, ReferencesCreated: 1, ReferencesDeduplicated: 1,
		ReferenceIDs: []int64{r2, r1, r2},
	}
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error { return tx.RecordBatch(ctx, batch) }))

	got, err := s.FindBatch(ctx, p.ID, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, batch.ID, got.ID)
	assert.Equal(t, 2, got.ClaimsCreated)
	assert.Equal(t, 1, got.ReferencesDeduplicated)
	assert.Equal(t, []int64{r2, r1, r2}, got.ReferenceIDs, "draft order with repeats")
	assert.False(t, got.CreatedAt.IsZero())

	_, err = s.FindBatch(ctx, p.ID, "doc-2")
	assert.ErrorIs(t, err, types.ErrNotFound)

	dup := batch
	dup.ID = "7d9f6c1e-0000-4000-8000-000000000002"
	err = s.WithTx(ctx, func(tx *Tx) error { return tx.RecordBatch(ctx, dup) })
	assert.ErrorIs(t, err, ErrBatchExists)
}

func TestRecordBatchWithoutKeyNeverConflicts(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		b := types.ExtractionBatch{ID: fmt.Sprintf("batch-%d", i), ProjectID: p.ID}
		require.NoError(t, s.WithTx(ctx, func(tx *Tx) error { return tx.RecordBatch(ctx, b) }))
	}
	assert.Equal(t, 2, countRows(t, s, "extraction_batches"))
	assert.Equal(t, 0, countRows(t, s, "batch_refs"))
}

// --- retrieve / export ---

func seedGraph(t *testing.T, s *Store) types.Project {
	t.Helper()
	ctx := context.Background()
	p := testProject(t, s)
	other, err := s.CreateProject(ctx, "Other", "")
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx *Tx) error {
		shared := types.ReferenceDraft{Title: "Shared", Authors: "Kim", DOI: "10.6/shared"}
		sharedID, _, err := tx.UpsertReferenceIfAbsent(ctx, shared, identity.KeyOf(shared))
		if err != nil {
			return err
		}
		drafts := []struct {
			project int64
			draft   types.ClaimDraft
		}{
			{p.ID, types.ClaimDraft{Text: "Accuracy rose 5%.", ClaimType: types.ClaimStatistical}},
			{p.ID, types.ClaimDraft{Text: "We used cross-validation.", ClaimType: types.ClaimMethodological}},
			{other.ID, types.ClaimDraft{Text: "Elsewhere.", ClaimType: types.ClaimStatistical}},
		}
		for _, d := range drafts {
			c, err := tx.CreateClaim(ctx, d.project, d.draft, "seed")
			if err != nil {
				return err
			}
			if err := tx.UpsertClaimReferenceLink(ctx, c.ID, sharedID, nil, nil); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return p
}

func TestRetrieveFilters(t *testing.T) {
	s := testStore(t)
	p := seedGraph(t, s)
	ctx := context.Background()

	all, err := s.Retrieve(ctx, QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byProject, err := s.Retrieve(ctx, QueryOptions{ProjectID: p.ID})
	require.NoError(t, err)
	assert.Len(t, byProject, 2)

	byType, err := s.Retrieve(ctx, QueryOptions{ProjectID: p.ID, ClaimType: types.ClaimStatistical})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "Accuracy rose 5%.", byType[0].Text)
	require.Len(t, byType[0].References, 1)
	assert.Equal(t, "Shared", byType[0].References[0].Title)

	limited, err := s.Retrieve(ctx, QueryOptions{MaxResults: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := s.Retrieve(ctx, QueryOptions{Status: types.StatusVerified})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestExportJSON(t *testing.T) {
	s := testStore(t)
	p := seedGraph(t, s)

	var buf bytes.Buffer
	require.NoError(t, s.ExportJSON(context.Background(), &buf, QueryOptions{ProjectID: p.ID}))

	var got Export
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Len(t, got.Claims, 2)
	require.Len(t, got.References, 1, "shared reference exported once")
	assert.Equal(t, "10.6/shared", got.References[0].DOI)
}

func TestExportYAML(t *testing.T) {
	s := testStore(t)
	seedGraph(t, s)

	var buf bytes.Buffer
	require.NoError(t, s.ExportYAML(context.Background(), &buf, QueryOptions{ClaimType: types.ClaimMethodological}))
	assert.True(t, strings.Contains(buf.String(), "We used cross-validation."))

	var got map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	claims, ok := got["claims"].([]any)
	require.True(t, ok)
	assert.Len(t, claims, 1)
}

func TestStats(t *testing.T) {
	s := testStore(t)
	seedGraph(t, s)

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Projects: 2, Claims: 3, References: 1, Links: 3, Batches: 0}, st)
}
