//go:build !(cgo && prism_static)

package prism

// staticSource is nil unless the grammar is compiled in with -tags prism_static.
func staticSource() Source {
	return nil
}
