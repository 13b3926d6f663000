//go:build !unix

package files

// Cross-device renames surface as plain move errors on these platforms.
func isEXDEV(error) bool { return false }
