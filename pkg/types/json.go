package types

// JSONMap is a free-form JSON object column.
type JSONMap map[string]any

// AttachmentRefs is an ordered list of opaque attachment references, stored as
// a JSON array. Uploads themselves live outside this system.
type AttachmentRefs []string
