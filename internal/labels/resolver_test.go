package labels

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teemow/inboxtriage/internal/logging"
)

func testFolders() []Folder {
	return []Folder{
		{ID: "INBOX", Name: "INBOX"},
		{ID: "SENT", Name: "SENT"},
		{ID: "Label_1", Name: "workflow_to_respond"},
		{ID: "Label_2", Name: "workflow_drafted"},
		{ID: "Label_3", Name: "workflow_to_read"},
		{ID: "Label_10", Name: "ai_urgent"},
		{ID: "Label_11", Name: "ai_newsletter"},
		{ID: "Label_20", Name: "receipts"},
	}
}

func TestResolver_Translate(t *testing.T) {
	r := BuildResolver(testFolders(), logging.Nop())

	assert.Equal(t, []string{"INBOX", "workflow_to_respond"}, r.Translate([]string{"INBOX", "Label_1"}))
	assert.Equal(t, []string{"Label_999", "ai_urgent"}, r.Translate([]string{"Label_999", "Label_10"}), "unknown id passes through")
	assert.Empty(t, r.Translate(nil))
}

func TestResolver_TranslateBack(t *testing.T) {
	r := BuildResolver(testFolders(), logging.Nop())

	assert.Equal(t, []string{"INBOX", "Label_2"}, r.TranslateBack([]string{"INBOX", "workflow_drafted"}))
	assert.Equal(t, []string{"Label_11"}, r.TranslateBack([]string{"ai_missing", "ai_newsletter"}), "unknown name is dropped")
}

func TestResolver_Missing(t *testing.T) {
	r := BuildResolver(testFolders(), logging.Nop())

	assert.Equal(t, []string{"ai_missing"}, r.Missing([]string{"ai_newsletter", "ai_missing"}))
	assert.Empty(t, r.Missing([]string{"workflow_drafted"}))
	assert.Empty(t, r.Missing(nil))
}

func TestResolver_Lookups(t *testing.T) {
	r := BuildResolver(append(testFolders(),
		Folder{ID: "", Name: "ignored"},
		Folder{ID: "Label_dup", Name: "receipts"},
	), logging.Nop())

	id, ok := r.IDFor("receipts")
	assert.True(t, ok)
	assert.Equal(t, "Label_20", id, "first folder wins on duplicate names")

	name, ok := r.NameFor("Label_dup")
	assert.True(t, ok)
	assert.Equal(t, "receipts", name)

	_, ok = r.IDFor("ignored")
	assert.False(t, ok)
	assert.True(t, r.Known("SENT"))
	assert.False(t, r.Known("Label_999"))
}
