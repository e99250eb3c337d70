package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
		want string
	}{
		{"defaults", Option{}, "postgres://localhost:5432?sslmode=disable"},
		{
			"full",
			Option{Host: "db", Port: 6543, User: "tp", Password: "s3cret", Database: "tradepipe", SSLMode: "require",
				Params: map[string]string{"application_name": "tradepipe", "": "skipped"}},
			"postgres://tp:s3cret@db:6543/tradepipe?application_name=tradepipe&sslmode=require",
		},
		{"user only", Option{User: "tp"}, "postgres://tp@localhost:5432?sslmode=disable"},
		{"conn string wins", Option{ConnString: "host=x", Host: "db"}, "host=x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.opt.dsn())
		})
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	assert.Nil(t, c.DB())
	assert.NoError(t, c.Close())
}
