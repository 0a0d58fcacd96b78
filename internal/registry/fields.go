package registry

// Pointer constructors for building partial updates inline.

func String(s string) *string { return &s }
func Bool(b bool) *bool       { return &b }
func Int(i int) *int          { return &i }
