package labels

import (
	"log/slog"

	"github.com/teemow/inboxtriage/internal/logging"
)

// Folder is a provider label or folder as returned by ListFolders.
type Folder struct {
	ID   string
	Name string
}

// Resolver translates between provider label ids and label names for the
// duration of one operation. Build a new one per operation; folder
// metadata can change between calls.
type Resolver struct {
	idToName map[string]string
	nameToID map[string]string
	logger   *slog.Logger
}

// BuildResolver builds the id and name maps from folders. Entries without
// an id or name are ignored, and the first folder wins when two share a name.
func BuildResolver(folders []Folder, logger *slog.Logger) *Resolver {
	r := &Resolver{
		idToName: make(map[string]string, len(folders)),
		nameToID: make(map[string]string, len(folders)),
		logger:   logging.OrDefault(logger),
	}
	for _, f := range folders {
		if f.ID == "" || f.Name == "" {
			continue
		}
		if existing, ok := r.nameToID[f.Name]; ok && existing != f.ID {
			r.logger.Warn("duplicate label name, keeping first id",
				slog.String("name", f.Name),
				slog.String("kept_id", existing),
				slog.String("ignored_id", f.ID))
			r.idToName[f.ID] = f.Name
			continue
		}
		r.idToName[f.ID] = f.Name
		r.nameToID[f.Name] = f.ID
	}
	return r
}

// NameFor returns the label name for id.
func (r *Resolver) NameFor(id string) (string, bool) {
	name, ok := r.idToName[id]
	return name, ok
}

// IDFor returns the label id for name.
func (r *Resolver) IDFor(name string) (string, bool) {
	id, ok := r.nameToID[name]
	return id, ok
}

// Missing returns the names in names the account has no folder for.
func (r *Resolver) Missing(names []string) []string {
	var missing []string
	for _, name := range names {
		if _, ok := r.nameToID[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Known reports whether id belongs to a folder the resolver was built from.
func (r *Resolver) Known(id string) bool {
	_, ok := r.idToName[id]
	return ok
}

// Translate maps ids to names. An unknown id is passed through unchanged.
func (r *Resolver) Translate(ids []string) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		name, ok := r.idToName[id]
		if !ok {
			r.logger.Debug("unknown label id, passing through", slog.String("label_id", id))
			names = append(names, id)
			continue
		}
		names = append(names, name)
	}
	return names
}

// TranslateBack maps names to ids. An unknown name is dropped.
func (r *Resolver) TranslateBack(names []string) []string {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		id, ok := r.nameToID[name]
		if !ok {
			r.logger.Warn("unknown label name, dropping", slog.String("name", name))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
