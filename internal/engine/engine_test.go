package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"entgo.io/ent/dialect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabgrid/internal/blob"
	"tabgrid/internal/dsl"
	"tabgrid/internal/hooks"
	"tabgrid/internal/sqldb"
	"tabgrid/internal/store"
)

const contactosYAML = `
entity: contactos
title: Contacts
table: contactos
hooks:
  before_save: contactos.before_save
  after_load: contactos.after_load
fields:
  - {id: name, type: text, required: true}
  - {id: email, type: email}
  - {id: photo, type: file}
  - id: status
    type: select
    options:
      - {value: 1, label: Active}
      - {value: 0, label: Inactive}
subgrids:
  - {entity: cars, title: Cars, foreign_key: contacto_id}
`

const carsYAML = `
entity: cars
title: Cars
table: cars
fields:
  - {id: contacto_id, type: hidden, fk: contactos}
  - {id: brand, type: text}
  - {id: year, type: number}
`

const carsCustomYAML = carsYAML + `
queries:
  list: SELECT id, contacto_id, brand FROM cars ORDER BY brand
  get: SELECT id, brand, brand || '!' AS shout FROM cars WHERE id = :id
`

func parseAll(t *testing.T, decls ...string) []*dsl.Entity {
	t.Helper()
	out := make([]*dsl.Entity, 0, len(decls))
	for _, d := range decls {
		e, err := dsl.Parse([]byte(d))
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func newEngine(t *testing.T, st store.Store, cat *hooks.Catalog, decls ...string) *Engine {
	t.Helper()
	reg := NewRegistry(parseAll(t, decls...), cat, nil)
	return New(reg, Options{
		Stores:   map[string]store.Store{dsl.DefaultConnection: st},
		Uploader: blob.NewUploader(&blob.LocalBlobStore{Root: t.TempDir()}, nil, nil),
	})
}

func sqliteStore(t *testing.T, decls ...string) store.Store {
	t.Helper()
	ctx := context.Background()
	db, err := sqldb.Open(ctx, sqldb.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ddl, err := sqldb.GenerateDDL(parseAll(t, decls...), dialect.SQLite)
	require.NoError(t, err)
	require.NoError(t, sqldb.ApplyDDL(ctx, db, ddl, nil))
	return store.NewSQL(db, dialect.SQLite)
}

// countingStore считает открытые транзакции.
type countingStore struct {
	store.Store
	mu    sync.Mutex
	begun int
}

func (s *countingStore) Begin(ctx context.Context) (store.Tx, error) {
	s.mu.Lock()
	s.begun++
	s.mu.Unlock()
	return s.Store.Begin(ctx)
}

func stores(t *testing.T) map[string]func() store.Store {
	return map[string]func() store.Store{
		"memory": func() store.Store { return store.NewMemory() },
		"sqlite": func() store.Store { return sqliteStore(t, contactosYAML, carsYAML) },
	}
}

func TestSaveRecord_PartialUpdateRoundTrip(t *testing.T) {
	for name, mk := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := newEngine(t, mk(), nil, contactosYAML, carsYAML)

			res := e.SaveRecord(ctx, "contactos", map[string]any{"name": "x", "email": "y"}, nil, "1")
			require.True(t, res.Success, res.Error)
			require.NotEmpty(t, res.ID)

			rec, ok := e.GetRecord(ctx, "contactos", res.ID)
			require.True(t, ok)
			assert.Equal(t, "x", rec["name"])
			assert.Equal(t, "y", rec["email"])

			upd := e.SaveRecord(ctx, "contactos", map[string]any{"id": res.ID, "name": "z"}, nil, "1")
			require.True(t, upd.Success, upd.Error)
			assert.Equal(t, res.ID, upd.ID)

			rec, ok = e.GetRecord(ctx, "contactos", res.ID)
			require.True(t, ok)
			assert.Equal(t, "z", rec["name"])
			assert.Equal(t, "y", rec["email"])
		})
	}
}

func TestSaveRecord_UnknownKeysIgnored(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, store.NewMemory(), nil, contactosYAML, carsYAML)

	res := e.SaveRecord(ctx, "contactos", map[string]any{"name": "a", "is_admin": "1", "csrf": "t"}, nil, "")
	require.True(t, res.Success)

	rec, ok := e.GetRecord(ctx, "contactos", res.ID)
	require.True(t, ok)
	assert.NotContains(t, rec, "is_admin")
	assert.NotContains(t, rec, "csrf")
}

func TestSaveRecord_UpdateMissing(t *testing.T) {
	e := newEngine(t, store.NewMemory(), nil, contactosYAML, carsYAML)
	res := e.SaveRecord(context.Background(), "contactos", map[string]any{"id": "nope", "name": "a"}, nil, "")
	assert.Equal(t, SaveResult{Error: MsgNotFound}, res)
}

func TestSaveRecord_UnknownEntity(t *testing.T) {
	e := newEngine(t, store.NewMemory(), nil, contactosYAML, carsYAML)
	res := e.SaveRecord(context.Background(), "ghosts", map[string]any{"name": "a"}, nil, "")
	assert.False(t, res.Success)
	assert.Equal(t, ErrUnknownEntity.Error(), res.Error)
}

func TestSaveRecord_BeforeSaveErrorsSkipStorage(t *testing.T) {
	cat := hooks.NewCatalog()
	cat.OnBeforeSave("contactos.before_save", func(_ context.Context, data store.Record) (store.Record, error) {
		if data["email"] == "" {
			return nil, hooks.Invalid("email", "required")
		}
		return data, nil
	})
	st := &countingStore{Store: store.NewMemory()}
	e := newEngine(t, st, cat, contactosYAML, carsYAML)

	res := e.SaveRecord(context.Background(), "contactos", map[string]any{"name": "a", "email": ""}, nil, "")
	assert.Equal(t, SaveResult{Errors: map[string]string{"email": "required"}}, res)
	assert.Zero(t, st.begun)
}

func TestSaveRecord_BeforeSaveTransforms(t *testing.T) {
	cat := hooks.NewCatalog()
	cat.OnBeforeSave("contactos.before_save", func(_ context.Context, data store.Record) (store.Record, error) {
		data["name"] = "Mr. " + store.ToString(data["name"])
		return data, nil
	})
	e := newEngine(t, store.NewMemory(), cat, contactosYAML, carsYAML)
	ctx := context.Background()

	res := e.SaveRecord(ctx, "contactos", map[string]any{"name": "Smith"}, nil, "")
	require.True(t, res.Success)
	rec, _ := e.GetRecord(ctx, "contactos", res.ID)
	assert.Equal(t, "Mr. Smith", rec["name"])
}

func TestSaveRecord_HookPanicFailsOpen(t *testing.T) {
	cat := hooks.NewCatalog()
	cat.OnBeforeSave("contactos.before_save", func(context.Context, store.Record) (store.Record, error) {
		panic("broken extension")
	})
	e := newEngine(t, store.NewMemory(), cat, contactosYAML, carsYAML)

	res := e.SaveRecord(context.Background(), "contactos", map[string]any{"name": "a"}, nil, "")
	assert.True(t, res.Success)
}

func TestSaveRecord_AfterSaveSeesID(t *testing.T) {
	var got hooks.SaveEvent
	var actor string
	cat := hooks.NewCatalog()
	cat.OnAfterSave("cars.after_save", func(ctx context.Context, ev hooks.SaveEvent) error {
		got, actor = ev, hooks.Actor(ctx)
		return nil
	})
	decl := carsYAML + "hooks:\n  after_save: cars.after_save\n"
	e := newEngine(t, store.NewMemory(), cat, contactosYAML, decl)

	res := e.SaveRecord(context.Background(), "cars", map[string]any{"brand": "Seat"}, nil, "7")
	require.True(t, res.Success)
	assert.Equal(t, res.ID, got.ID)
	assert.Equal(t, "Seat", got.Data["brand"])
	assert.Equal(t, "7", actor)
}

func TestSaveRecord_Uploads(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	reg := NewRegistry(parseAll(t, contactosYAML, carsYAML), nil, nil)
	e := New(reg, Options{
		Stores:   map[string]store.Store{dsl.DefaultConnection: store.NewMemory()},
		Uploader: blob.NewUploader(&blob.LocalBlobStore{Root: root}, []string{"png"}, nil),
	})

	rejected := e.SaveRecord(ctx, "contactos", map[string]any{"name": "a"},
		map[string]blob.FileSource{"photo": blob.Bytes("evil.exe", []byte("MZ"))}, "")
	require.True(t, rejected.Success)
	rec, _ := e.GetRecord(ctx, "contactos", rejected.ID)
	assert.NotContains(t, rec, "photo")

	accepted := e.SaveRecord(ctx, "contactos", map[string]any{"name": "b"},
		map[string]blob.FileSource{
			"photo":   blob.Bytes("me.png", []byte("png")),
			"unknown": blob.Bytes("x.png", []byte("png")),
		}, "")
	require.True(t, accepted.Success)
	rec, _ = e.GetRecord(ctx, "contactos", accepted.ID)
	want := "contactos_" + accepted.ID + ".png"
	assert.Equal(t, want, rec["photo"])

	_, err := os.Stat(filepath.Join(root, want))
	assert.NoError(t, err)
	entries, _ := os.ReadDir(root)
	assert.Len(t, entries, 1)
}

func TestSaveRecord_LastCommitWins(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, store.NewMemory(), nil, contactosYAML, carsYAML)
	res := e.SaveRecord(ctx, "contactos", map[string]any{"name": "0", "email": "0"}, nil, "")
	require.True(t, res.Success)

	e.SaveRecord(ctx, "contactos", map[string]any{"id": res.ID, "name": "1", "email": "1"}, nil, "")
	e.SaveRecord(ctx, "contactos", map[string]any{"id": res.ID, "name": "2", "email": "2"}, nil, "")
	rec, _ := e.GetRecord(ctx, "contactos", res.ID)
	assert.Equal(t, "2", rec["name"])
	assert.Equal(t, "2", rec["email"])

	var wg sync.WaitGroup
	for _, v := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.SaveRecord(ctx, "contactos", map[string]any{"id": res.ID, "name": v, "email": v}, nil, "")
		}()
	}
	wg.Wait()
	rec, _ = e.GetRecord(ctx, "contactos", res.ID)
	assert.Equal(t, rec["name"], rec["email"], "payloads must not interleave")
}

func TestDeleteRecord(t *testing.T) {
	for name, mk := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := newEngine(t, mk(), nil, contactosYAML, carsYAML)

			assert.Equal(t, DeleteResult{Error: "not found"}, e.DeleteRecord(ctx, "contactos", "999", ""))

			res := e.SaveRecord(ctx, "contactos", map[string]any{"name": "a"}, nil, "")
			require.True(t, res.Success)
			assert.Equal(t, DeleteResult{Success: true}, e.DeleteRecord(ctx, "contactos", res.ID, ""))
			_, ok := e.GetRecord(ctx, "contactos", res.ID)
			assert.False(t, ok)
		})
	}
}

func TestDeleteRecord_BeforeDelete(t *testing.T) {
	var afterCalled bool
	cat := hooks.NewCatalog()
	cat.OnBeforeDelete("deny", func(context.Context, string) error { return hooks.ErrDenied })
	cat.OnBeforeDelete("flaky", func(context.Context, string) error { panic("oops") })
	cat.OnAfterDelete("after", func(context.Context, string) error { afterCalled = true; return nil })

	ctx := context.Background()
	mk := func(ref string) *Engine {
		decl := carsYAML + "hooks:\n  before_delete: " + ref + "\n  after_delete: after\n"
		return newEngine(t, store.NewMemory(), cat, contactosYAML, decl)
	}

	e := mk("deny")
	res := e.SaveRecord(ctx, "cars", map[string]any{"brand": "Seat"}, nil, "")
	del := e.DeleteRecord(ctx, "cars", res.ID, "")
	assert.False(t, del.Success)
	assert.Equal(t, hooks.ErrDenied.Error(), del.Error)
	_, ok := e.GetRecord(ctx, "cars", res.ID)
	assert.True(t, ok, "denied delete must keep the record")
	assert.False(t, afterCalled)

	e = mk("flaky")
	res = e.SaveRecord(ctx, "cars", map[string]any{"brand": "Seat"}, nil, "")
	assert.True(t, e.DeleteRecord(ctx, "cars", res.ID, "").Success)
	assert.True(t, afterCalled)
}

func TestListRecords_ParentFilter(t *testing.T) {
	cases := map[string]struct {
		store func() store.Store
		decl  string
		want  []string
	}{
		"generic memory": {func() store.Store { return store.NewMemory() }, carsYAML, []string{"Seat", "Audi"}},
		"generic sqlite": {func() store.Store { return sqliteStore(t, carsYAML) }, carsYAML, []string{"Seat", "Audi"}},
		"custom sqlite":  {func() store.Store { return sqliteStore(t, carsYAML) }, carsCustomYAML, []string{"Audi", "Seat"}},
		// memory не исполняет SQL и уходит на обобщённый путь
		"custom memory": {func() store.Store { return store.NewMemory() }, carsCustomYAML, []string{"Seat", "Audi"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := newEngine(t, tc.store(), nil, tc.decl)
			for _, c := range []struct{ parent, brand string }{{"1", "Seat"}, {"2", "Fiat"}, {"1", "Audi"}} {
				res := e.SaveRecord(ctx, "cars", map[string]any{"contacto_id": c.parent, "brand": c.brand}, nil, "")
				require.True(t, res.Success, res.Error)
			}

			rows := e.ListRecords(ctx, "cars", "1", "contacto_id")
			var brands []string
			for _, r := range rows {
				assert.Equal(t, "1", store.ToString(r["contacto_id"]))
				brands = append(brands, store.ToString(r["brand"]))
			}
			assert.Equal(t, tc.want, brands)

			assert.Len(t, e.ListRecords(ctx, "cars", "", ""), 3)
			assert.Empty(t, e.ListRecords(ctx, "cars", "1", "brand = brand OR 1"))
		})
	}
}

func TestListRecords_CompoundCustomQuery(t *testing.T) {
	ctx := context.Background()
	decl := carsYAML + `
queries:
  list: SELECT id, contacto_id, brand FROM cars WHERE brand = 'Seat' UNION SELECT id, contacto_id, brand FROM cars WHERE year < 2000 ORDER BY brand
`
	e := newEngine(t, sqliteStore(t, carsYAML), nil, decl)
	for _, c := range []struct{ parent, brand, year string }{{"1", "Seat", "2019"}, {"2", "Fiat", "1990"}, {"1", "Audi", "1995"}, {"1", "Kia", "2020"}} {
		res := e.SaveRecord(ctx, "cars", map[string]any{"contacto_id": c.parent, "brand": c.brand, "year": c.year}, nil, "")
		require.True(t, res.Success, res.Error)
	}

	brands := func(rows []store.Record) []string {
		out := []string{}
		for _, r := range rows {
			out = append(out, store.ToString(r["brand"]))
		}
		return out
	}
	assert.Equal(t, []string{"Audi", "Fiat", "Seat"}, brands(e.ListRecords(ctx, "cars", "", "")))
	// фильтр по родителю действует на обе ветки
	assert.Equal(t, []string{"Audi", "Seat"}, brands(e.ListRecords(ctx, "cars", "1", "contacto_id")))
	assert.Equal(t, []string{"Fiat"}, brands(e.ListRecords(ctx, "cars", "2", "contacto_id")))
}

func TestListRecords_UnknownEntity(t *testing.T) {
	e := newEngine(t, store.NewMemory(), nil, carsYAML)
	rows := e.ListRecords(context.Background(), "ghosts", "", "")
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestListRecords_Hooks(t *testing.T) {
	cat := hooks.NewCatalog()
	cat.OnBeforeLoad("scope", func(_ context.Context, p hooks.Params) (hooks.Params, error) {
		p["parent_id"], p["foreign_key"] = "2", "contacto_id"
		return p, nil
	})
	cat.OnAfterLoad("urls", hooks.ResolveFileURLs("/uploads", "brand"))
	decl := carsYAML + "hooks:\n  before_load: scope\n  after_load: urls\n"
	ctx := context.Background()
	e := newEngine(t, store.NewMemory(), cat, decl)
	e.SaveRecord(ctx, "cars", map[string]any{"contacto_id": "1", "brand": "a.png"}, nil, "")
	e.SaveRecord(ctx, "cars", map[string]any{"contacto_id": "2", "brand": "b.png"}, nil, "")

	rows := e.ListRecords(ctx, "cars", "", "")
	require.Len(t, rows, 1)
	assert.Equal(t, "/uploads/b.png", rows[0]["brand_url"])
}

func TestGetRecord_CustomQuery(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, sqliteStore(t, carsYAML), nil, carsCustomYAML)
	res := e.SaveRecord(ctx, "cars", map[string]any{"brand": "Seat"}, nil, "")
	require.True(t, res.Success)

	rec, ok := e.GetRecord(ctx, "cars", res.ID)
	require.True(t, ok)
	assert.Equal(t, "Seat!", rec["shout"])

	_, ok = e.GetRecord(ctx, "cars", "404")
	assert.False(t, ok)
}

func TestSwap(t *testing.T) {
	e := newEngine(t, store.NewMemory(), nil, carsYAML)
	old := e.Registry()
	e.Swap(NewRegistry(parseAll(t, contactosYAML), nil, nil))

	_, ok := e.Registry().Get("cars")
	assert.False(t, ok)
	_, ok = old.Get("cars")
	assert.True(t, ok, "old snapshot stays intact")
}

func TestAuthorize(t *testing.T) {
	e := newEngine(t, store.NewMemory(), nil, carsYAML+"rights: [A]\n")
	_, err := e.Authorize("cars", "A")
	assert.NoError(t, err)
	_, err = e.Authorize("cars", "U")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = e.Authorize("ghosts", "A")
	assert.ErrorIs(t, err, ErrUnknownEntity)
}
