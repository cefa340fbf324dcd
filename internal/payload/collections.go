package payload

// Collection names an entity collection in the payload.
type Collection string

const (
	Folder   Collection = "folder"
	Context  Collection = "context"
	Goal     Collection = "goal"
	Tag      Collection = "tag"
	Task     Collection = "task"
	Notebook Collection = "notebook"
	Conf     Collection = "conf"
)

// Collections lists the hierarchical collections in import order.
// Referenced collections come before the collections that point at them.
// Conf is flat and handled separately.
var Collections = []Collection{Folder, Context, Goal, Tag, Task, Notebook}

// References maps, per collection, a field holding a payload id to the
// collection that id belongs to.
var References = map[Collection]map[string]Collection{
	Task: {
		"context_id": Context,
		"folder_id":  Folder,
		"goal_id":    Goal,
	},
	Notebook: {
		"folder_id": Folder,
	},
}

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	if c == Conf {
		return true
	}
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}
