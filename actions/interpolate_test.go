package actions

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crmflow/crmflow/core"
)

func Test_Interpolate(t *testing.T) {
	record := core.Record{
		"name":   "Acme renewal",
		"amount": 50000.0,
		"empty":  nil,
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"simple", "Deal {{name}} needs approval", "Deal Acme renewal needs approval"},
		{"number", "Amount: {{amount}}", "Amount: 50000"},
		{"spaces inside braces", "Deal {{ name }} needs approval", "Deal Acme renewal needs approval"},
		{"unknown field", "Owner: {{owner_name}}!", "Owner: !"},
		{"nil value", "[{{empty}}]", "[]"},
		{"multiple", "{{name}} / {{amount}}", "Acme renewal / 50000"},
		{"no placeholders", "static text", "static text"},
		{"empty template", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Interpolate(tt.template, record))
		})
	}
}
