package protocol

import "github.com/invopop/jsonschema"

// Action is a registerable operation that the controller can invoke on the
// game whenever it wants.
type Action struct {
	// Name is the action's unique identifier. It should be a lowercase
	// string, with words separated by underscores or dashes
	// (e.g. "join_friend_lobby", "use_item").
	Name string `json:"name"`
	// Description is a plaintext explanation of what the action does. It is
	// received verbatim by the controller.
	Description string `json:"description"`
	// Schema describes the shape of the action's parameters as a simple JSON
	// Schema. Actions without parameters omit it or send an empty object.
	// The schema is owned by this descriptor and never shared.
	Schema *jsonschema.Schema `json:"schema,omitempty"`
}
