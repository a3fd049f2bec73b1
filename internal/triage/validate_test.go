package triage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxtriage/internal/triageerr"
)

func TestValidateLabels(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		want     []string
		stripped []string
	}{
		{"object", `{"labels":["ai_urgent","ai_newsletter"]}`, []string{"ai_newsletter", "ai_urgent"}, nil},
		{"bare array", `["ai_receipt"]`, []string{"ai_receipt"}, nil},
		{"strips invalid entries", `{"labels":["ai_newsletter","not_a_label"]}`, []string{"ai_newsletter"}, []string{"not_a_label"}},
		{"empty means clear", `{"labels":[]}`, []string{}, nil},
		{"trims and dedups", `[" ai_urgent ", "ai_urgent"]`, []string{"ai_urgent"}, nil},
		{"prefix is case sensitive", `["AI_Urgent", "ai_", "workflow_drafted"]`, []string{}, []string{"AI_Urgent", "ai_", "workflow_drafted"}},
		{"any suffix after the prefix", `["ai_VIP", "ai_follow-up", "ai_newsletter"]`, []string{"ai_VIP", "ai_follow-up", "ai_newsletter"}, nil},
		{"extra fields ignored", `{"labels":["ai_x"],"confidence":0.9}`, []string{"ai_x"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, stripped, err := validateLabels(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.stripped, stripped)
		})
	}
}

func TestValidateLabels_RejectsWrongShape(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"labels":"ai_urgent"}`,
		`{"tags":["ai_urgent"]}`,
		`["ai_urgent", 3]`,
		`{"labels":[null]}`,
		`"ai_urgent"`,
		`null`,
	} {
		_, err := ValidateLabels(json.RawMessage(raw))
		var ve *triageerr.ValidationError
		require.ErrorAs(t, err, &ve, raw)
		assert.Equal(t, raw, string(ve.Raw))
		assert.Equal(t, triageerr.KindValidation, triageerr.Kind(err))
	}
}
