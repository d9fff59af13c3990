package migrate

import (
	"database/sql"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	_ "github.com/lib/pq"
)

func TestCreatePostgres(t *testing.T) {
	if *testPostgres == "" {
		t.Skipf("postgres flag missing, example:\n-postgres-test-db=%s", defaultPostgresConn)
	}

	db, err := sql.Open("postgres", *testPostgres)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { assert.NoError(t, db.Close()) }()
	defer func() { _, _ = db.Exec(`DROP TABLE IF EXISTS example_table, table_schemas`) }()

	// should create table
	err = Create("example", &postgresDB{db, "CREATE TABLE example_table (id text)"})
	assert.NoError(t, err)

	// shouldn't create a new table
	err = Create("example", &postgresDB{db, "CREATE TABLE example_table (id text)"})
	assert.NoError(t, err)

	// should fail, because schema changed
	err = Create("example", &postgresDB{db, "CREATE TABLE example_table (id text, version integer)"})
	assert.Error(t, err)

	// should fail, because of trying to CREATE TABLE with same name
	err = Create("conflict", &postgresDB{db, "CREATE TABLE example_table (id text, version integer)"})
	assert.Error(t, err)
}

type postgresDB struct {
	*sql.DB
	schema string
}

func (db *postgresDB) Rebind(sql string) string {
	out := make([]byte, 0, len(sql)+10)

	j := 1
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch != '?' {
			out = append(out, ch)
			continue
		}

		out = append(out, '$')
		out = append(out, strconv.Itoa(j)...)
		j++
	}

	return string(out)
}
func (db *postgresDB) Schema() string { return db.schema }
