package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit_pool/internal/models"
)

func TestCreditsValue(t *testing.T) {
	var c models.Credits
	v := creditsValue{&c}

	require.NoError(t, v.Set("-2.5"))
	assert.Equal(t, "-2.5000", v.String())
	assert.Equal(t, "credits", v.Type())

	assert.Error(t, v.Set("ten"))
	assert.Equal(t, "-2.5000", v.String())
}

func TestLedgerVerifyArgs(t *testing.T) {
	tests := []struct {
		name    string
		all     bool
		args    []string
		wantErr bool
	}{
		{"one account", false, []string{"alice"}, false},
		{"all", true, nil, false},
		{"neither", false, nil, true},
		{"both", true, []string{"alice"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifyAll = tt.all
			defer func() { verifyAll = false }()
			err := ledgerVerifyCmd.Args(ledgerVerifyCmd, tt.args)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"migrate"},
		{"pricing", "seed"},
		{"pricing", "list"},
		{"ledger", "verify"},
		{"ledger", "adjust"},
		{"ledger", "unfreeze"},
		{"ledger", "balance"},
		{"pool", "stats"},
		{"pool", "expire"},
		{"token"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
