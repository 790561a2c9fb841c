package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/opt?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "opt"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestListQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := newListQuery("SELECT * FROM positions WHERE status = 'closed'", "closed_at")
	q.window(domain.ListOpts{Since: &since})
	q.page("closed_at DESC", domain.ListOpts{Limit: 10, Offset: 20})

	assert.Equal(t,
		"SELECT * FROM positions WHERE status = 'closed' AND closed_at >= $1 ORDER BY closed_at DESC LIMIT $2 OFFSET $3",
		q.sql)
	assert.Equal(t, []any{since, 10, 20}, q.args)
}

func TestListQueryNoOpts(t *testing.T) {
	q := newListQuery("SELECT 1 WHERE TRUE", "created_at")
	q.window(domain.ListOpts{})
	q.page("created_at", domain.ListOpts{})
	assert.Equal(t, "SELECT 1 WHERE TRUE ORDER BY created_at", q.sql)
	assert.Empty(t, q.args)
}
