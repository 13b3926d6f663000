package repositories

// nullable maps an empty string to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableInt maps zero to NULL.
func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
